// Package automation evaluates Filter Specifications against the module
// collections directly. The segment engine delegates dynamic-segment counts
// and previews here.
package automation

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/crestview/admissions-crm/internal/segment"
)

// moduleCollections maps a segment module scope to the collection its
// entities live in.
var moduleCollections = map[segment.Module]string{
	segment.ModuleLead:        "students",
	segment.ModuleApplication: "applications",
	segment.ModuleRawData:     "raw_data",
	segment.ModulePayment:     "payments",
}

// CompileFilter translates a Filter Specification plus advanced filters into
// one find filter over the module collection. An empty spec matches all.
func CompileFilter(filters segment.FilterSpec, advanced []bson.M) bson.M {
	clauses := []bson.M{}

	if len(filters.Sources) > 0 {
		clauses = append(clauses, bson.M{"source": bson.M{"$in": filters.Sources}})
	}
	if len(filters.StateCodes) > 0 {
		clauses = append(clauses, bson.M{"state": bson.M{"$in": filters.StateCodes}})
	}
	if len(filters.CounselorIDs) > 0 {
		clauses = append(clauses, bson.M{"counselor_id": bson.M{"$in": filters.CounselorIDs}})
	}
	if courses := segment.DecodeCourses(filters.CourseIDs, filters.CourseSpecializations, nil); len(courses) > 0 {
		or := make([]bson.M, 0, len(courses))
		for _, c := range courses {
			m := bson.M{"course_id": c.ID}
			if c.Specialization != "" {
				m["course_specialization"] = c.Specialization
			}
			or = append(or, m)
		}
		clauses = append(clauses, bson.M{"$or": or})
	}
	if filters.PaymentStatus != "" {
		clauses = append(clauses, bson.M{"payment_status": filters.PaymentStatus})
	}
	if filters.IsVerified != nil {
		clauses = append(clauses, bson.M{"is_verified": *filters.IsVerified})
	}
	if t := filters.StageChange; t != nil {
		clauses = append(clauses, bson.M{"stage_transitions": bson.M{"$elemMatch": bson.M{
			"from": t.From,
			"to":   t.To,
		}}})
	}
	if d := filters.Dates; d != nil {
		rng := bson.M{}
		if !d.From.IsZero() {
			rng["$gte"] = d.From
		}
		if !d.To.IsZero() {
			rng["$lte"] = d.To
		}
		if len(rng) > 0 {
			clauses = append(clauses, bson.M{"created_at": rng})
		}
	}
	for _, a := range advanced {
		if len(a) > 0 {
			clauses = append(clauses, a)
		}
	}

	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0]
	default:
		return bson.M{"$and": clauses}
	}
}

// Evaluator runs compiled filters against a database handle.
type Evaluator struct {
	db *mongo.Database
}

// NewEvaluator creates an evaluator over the given database.
func NewEvaluator(db *mongo.Database) *Evaluator {
	return &Evaluator{db: db}
}

// previewDoc is the projection previews read; entity collections denormalize
// these display fields.
type previewDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	StudentID string             `bson:"student_id"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Mobile    string             `bson:"mobile"`
}

// Evaluate counts the entities matching the filters in the module's
// collection and, when previewLimit > 0, returns up to that many preview
// rows, newest first.
func (e *Evaluator) Evaluate(ctx context.Context, module segment.Module, filters segment.FilterSpec, advanced []bson.M, previewLimit int64) (int64, []segment.EntityPreview, error) {
	collName, ok := moduleCollections[module]
	if !ok {
		return 0, nil, fmt.Errorf("no collection for module %q", module)
	}
	coll := e.db.Collection(collName)
	filter := CompileFilter(filters, advanced)

	count, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, nil, fmt.Errorf("count %s: %w", collName, err)
	}
	if previewLimit <= 0 {
		return count, nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(previewLimit).
		SetProjection(bson.M{"student_id": 1, "name": 1, "email": 1, "mobile": 1})
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return 0, nil, fmt.Errorf("preview %s: %w", collName, err)
	}
	defer cur.Close(ctx)

	var docs []previewDoc
	if err := cur.All(ctx, &docs); err != nil {
		return 0, nil, fmt.Errorf("decode preview: %w", err)
	}

	previews := make([]segment.EntityPreview, 0, len(docs))
	for _, d := range docs {
		p := segment.EntityPreview{
			StudentID: d.StudentID,
			Name:      d.Name,
			Email:     d.Email,
			Mobile:    d.Mobile,
		}
		if module == segment.ModuleApplication {
			p.ApplicationID = d.ID.Hex()
		} else if p.StudentID == "" {
			p.StudentID = d.ID.Hex()
		}
		previews = append(previews, p)
	}
	return count, previews, nil
}
