package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// studentDoc is the slice of a student document the membership path needs.
type studentDoc struct {
	Name   string `bson:"name"`
	Email  string `bson:"email"`
	Mobile string `bson:"mobile"`
}

// applicationDoc links an application to its student.
type applicationDoc struct {
	StudentID string `bson:"student_id"`
}

// ==========================================
// ASSIGNMENT
// ==========================================

// AssignEntity manually attaches one entity to a segment: a student for
// Lead-module segments, an application for Application-module segments.
//
// The only transition is absent -> member. A second assignment of the same
// entity fails with ErrDuplicateMembership and mutates nothing. On success the
// segment's cached count is recomputed by a full count of membership records,
// not an increment, so a concurrent partial failure cannot leave the count
// drifting further than one recount.
func (s *Store) AssignEntity(ctx context.Context, segmentID, entityID string) (*MemberRecord, error) {
	seg, err := s.Resolve(ctx, Selector{ID: segmentID})
	if err != nil {
		return nil, err
	}

	rec := MemberRecord{
		SegmentID:   seg.ID,
		CustomAdded: true,
	}

	if seg.ModuleName == ModuleApplication {
		var app applicationDoc
		err := s.db.Collection("applications").FindOne(ctx, bson.M{"_id": mustFilterID(entityID)}).Decode(&app)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("application %s: %w", entityID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("find application: %w", err)
		}
		rec.ApplicationID = entityID
		rec.StudentID = app.StudentID
	} else {
		rec.StudentID = entityID
	}

	var student studentDoc
	err = s.db.Collection("students").FindOne(ctx, bson.M{"_id": mustFilterID(rec.StudentID)}).Decode(&student)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("student %s: %w", rec.StudentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	rec.Name = student.Name
	rec.Email = student.Email
	rec.Mobile = student.Mobile

	dupKey := bson.M{"segment_id": seg.ID, "student_id": rec.StudentID}
	if rec.ApplicationID != "" {
		dupKey = bson.M{"segment_id": seg.ID, "application_id": rec.ApplicationID}
	}
	n, err := s.members().CountDocuments(ctx, dupKey)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if n > 0 {
		return nil, ErrDuplicateMembership
	}

	now := time.Now().UTC()
	rec.AddedAt = now
	rec.UpdatedAt = now
	if _, err := s.members().InsertOne(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}

	if _, err := s.RecountMembers(ctx, seg.ID.Hex()); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecountMembers recomputes and persists a segment's member count from the
// membership collection. Running it twice without intervening writes yields
// the same value.
func (s *Store) RecountMembers(ctx context.Context, segmentID string) (int64, error) {
	oid, err := ParseID(segmentID)
	if err != nil {
		return 0, err
	}
	n, err := s.members().CountDocuments(ctx, bson.M{"segment_id": oid})
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	_, err = s.segments().UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"data_count": n, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("persist member count: %w", err)
	}
	return n, nil
}

// ListMembers returns a page of membership records for a segment, newest
// first. limit <= 0 means no cap.
func (s *Store) ListMembers(ctx context.Context, segmentID string, offset, limit int64) ([]MemberRecord, error) {
	oid, err := ParseID(segmentID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: -1}}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.members().Find(ctx, bson.M{"segment_id": oid}, opts)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer cur.Close(ctx)

	var records []MemberRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	return records, nil
}

// mustFilterID builds an id filter value: ObjectID when the string parses as
// one, else the raw string. Entity collections carry both shapes historically.
func mustFilterID(id string) interface{} {
	if oid, err := ParseID(id); err == nil {
		return oid
	}
	return id
}
