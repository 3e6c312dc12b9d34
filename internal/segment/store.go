package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Selector identifies a segment by store-native id or by human name. Exactly
// one should be set; both empty is the distinct "no selector" case.
type Selector struct {
	ID   string
	Name string
}

// Store is the persistence layer for segments, membership records and the
// collections the engine resolves display names from.
type Store struct {
	db *mongo.Database
}

// NewStore creates a store over the given database handle.
func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) segments() *mongo.Collection { return s.db.Collection(CollSegments) }
func (s *Store) members() *mongo.Collection { return s.db.Collection(CollSegmentMembers) }

// ==========================================
// CREATE / UPDATE
// ==========================================

// Create inserts a new segment. The name is title-case normalized and must be
// unique after normalization. count_at_origin snapshots the initial count.
func (s *Store) Create(ctx context.Context, seg *Segment) error {
	seg.Name = NormalizeName(seg.Name)
	if seg.Name == "" {
		return Validationf("segment name is required")
	}
	if !ValidModule(seg.ModuleName) {
		return Validationf("unknown module %q", seg.ModuleName)
	}
	if seg.SegmentType == "" {
		seg.SegmentType = TypeDynamic
	}

	n, err := s.segments().CountDocuments(ctx, bson.M{"name": seg.Name})
	if err != nil {
		return fmt.Errorf("check name uniqueness: %w", err)
	}
	if n > 0 {
		return Validationf("segment named %q already exists", seg.Name)
	}

	now := time.Now().UTC()
	seg.CreatedAt = now
	seg.UpdatedAt = now
	seg.CountAtOrigin = seg.DataCount

	res, err := s.segments().InsertOne(ctx, seg)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		seg.ID = oid
	}
	return nil
}

// UpdateFilters replaces a segment's filter specification and advanced
// filters, stamping the update audit fields.
func (s *Store) UpdateFilters(ctx context.Context, sel Selector, filters FilterSpec, advanced []bson.M, updatedBy, updatedByName string) error {
	seg, err := s.Resolve(ctx, sel)
	if err != nil {
		return err
	}
	_, err = s.segments().UpdateOne(ctx,
		bson.M{"_id": seg.ID},
		bson.M{"$set": bson.M{
			"filters":          filters,
			"advanced_filters": advanced,
			"updated_by":       updatedBy,
			"updated_by_name":  updatedByName,
			"updated_at":       time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("update filters: %w", err)
	}
	return nil
}

// ==========================================
// RESOLUTION
// ==========================================

// Resolve looks a segment up by id when one is given, else by normalized name.
// Neither given returns ErrNoSelector, which callers must treat as a distinct
// case from ErrNotFound.
func (s *Store) Resolve(ctx context.Context, sel Selector) (*Segment, error) {
	var filter bson.M
	switch {
	case sel.ID != "":
		oid, err := ParseID(sel.ID)
		if err != nil {
			return nil, err
		}
		filter = bson.M{"_id": oid}
	case sel.Name != "":
		filter = bson.M{"name": NormalizeName(sel.Name)}
	default:
		return nil, ErrNoSelector
	}

	var seg Segment
	err := s.segments().FindOne(ctx, filter).Decode(&seg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("segment: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find segment: %w", err)
	}
	return &seg, nil
}

// ==========================================
// DELETE / STATUS
// ==========================================

// Delete hard-deletes a segment and its membership records.
func (s *Store) Delete(ctx context.Context, sel Selector) error {
	seg, err := s.Resolve(ctx, sel)
	if err != nil {
		return err
	}
	if _, err := s.segments().DeleteOne(ctx, bson.M{"_id": seg.ID}); err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if _, err := s.members().DeleteMany(ctx, bson.M{"segment_id": seg.ID}); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	return nil
}

// ChangeStatus enables or disables the given segments. An unknown status is a
// validation failure, not a store error.
func (s *Store) ChangeStatus(ctx context.Context, ids []string, status Status) error {
	if status != StatusActive && status != StatusClosed {
		return Validationf("status must be %q or %q, got %q", StatusActive, StatusClosed, status)
	}
	if len(ids) == 0 {
		return Validationf("no segment ids supplied")
	}
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := ParseID(id)
		if err != nil {
			return err
		}
		oids = append(oids, oid)
	}
	_, err := s.segments().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": oids}},
		bson.M{"$set": bson.M{"enabled": status == StatusActive, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("change status: %w", err)
	}
	return nil
}

// ==========================================
// LISTING (compiled pipeline execution)
// ==========================================

// nameDoc is the minimal projection the users/courses lookups return.
type nameDoc struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

// listRow is one compiled result document: the projected segment plus the
// three joined arrays.
type listRow struct {
	Segment        `bson:",inline"`
	StatusField    Status              `bson:"status"`
	AutomationRefs []AutomationRuleRef `bson:"automation_rules"`
	CounselorDocs  []nameDoc           `bson:"counselor_users"`
	CourseDocs     []nameDoc           `bson:"course_docs"`
}

type facetResult struct {
	Rows   []listRow `bson:"paginatedResults"`
	Counts []bson.M  `bson:"totalCount"`
}

// RunList executes the compiled listing pipeline and returns the rows together
// with the defensively-read total count.
func (s *Store) RunList(ctx context.Context, params ListParams) ([]listRow, int64, error) {
	pipeline := NewPipelineBuilder(params).Build()

	cur, err := s.segments().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, fmt.Errorf("run listing pipeline: %w", err)
	}
	defer cur.Close(ctx)

	var facets []facetResult
	if err := cur.All(ctx, &facets); err != nil {
		return nil, 0, fmt.Errorf("decode listing facets: %w", err)
	}
	if len(facets) == 0 {
		return nil, 0, nil
	}
	return facets[0].Rows, totalFromFacet(facets[0].Counts), nil
}

// ==========================================
// REFERENCE LOOKUPS
// ==========================================

// LoadStates reads the full state-code -> state-name table for a country.
// Backs the read-through reference cache.
func (s *Store) LoadStates(ctx context.Context, country string) (map[string]string, error) {
	cur, err := s.db.Collection("states").Find(ctx, bson.M{"country_code": country})
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	defer cur.Close(ctx)

	states := make(map[string]string)
	for cur.Next(ctx) {
		var doc struct {
			Code string `bson:"code"`
			Name string `bson:"name"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		states[doc.Code] = doc.Name
	}
	return states, cur.Err()
}

// UserName resolves one counselor id to a display name. One lookup per id;
// callers iterate.
func (s *Store) UserName(ctx context.Context, userID string) (string, error) {
	oid, err := ParseID(userID)
	if err != nil {
		return "", err
	}
	var doc nameDoc
	err = s.db.Collection(CollUsers).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	return doc.Name, nil
}
