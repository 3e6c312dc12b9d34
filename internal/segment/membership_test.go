package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func segmentDoc(id primitive.ObjectID, module Module) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "name", Value: "North Region"},
		{Key: "module_name", Value: string(module)},
		{Key: "segment_type", Value: string(TypeStatic)},
		{Key: "enabled", Value: true},
	}
}

func studentDocResponse(ns string) bson.D {
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
		{Key: "name", Value: "Asha Rao"},
		{Key: "email", Value: "asha@example.com"},
		{Key: "mobile", Value: "9900110022"},
	})
}

func countResponse(ns string, n int64) bson.D {
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

func emptyCountResponse(ns string) bson.D {
	return mtest.CreateCursorResponse(0, ns, mtest.FirstBatch)
}

func TestAssignEntity(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("duplicate assignment rejected without writes", func(mt *mtest.T) {
		segID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "admissions.segments", mtest.FirstBatch, segmentDoc(segID, ModuleLead)),
			studentDocResponse("admissions.students"),
			countResponse("admissions.segment_members", 1),
		)

		store := NewStore(mt.DB)
		_, err := store.AssignEntity(context.Background(), segID.Hex(), "stu-1")
		assert.ErrorIs(t, err, ErrDuplicateMembership)

		// Only the segment resolve, student fetch and duplicate check ran;
		// no insert, no count update.
		events := mt.GetAllStartedEvents()
		require.Len(t, events, 3)
		assert.Equal(t, "find", events[0].CommandName)
		assert.Equal(t, "find", events[1].CommandName)
		assert.Equal(t, "aggregate", events[2].CommandName)
	})

	mt.Run("first assignment inserts and recounts", func(mt *mtest.T) {
		segID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "admissions.segments", mtest.FirstBatch, segmentDoc(segID, ModuleLead)),
			studentDocResponse("admissions.students"),
			emptyCountResponse("admissions.segment_members"),
			mtest.CreateSuccessResponse(),
			countResponse("admissions.segment_members", 1),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		store := NewStore(mt.DB)
		rec, err := store.AssignEntity(context.Background(), segID.Hex(), "stu-1")
		require.NoError(t, err)

		assert.Equal(t, segID, rec.SegmentID)
		assert.Equal(t, "stu-1", rec.StudentID)
		assert.Equal(t, "Asha Rao", rec.Name)
		assert.True(t, rec.CustomAdded)
		assert.False(t, rec.AddedAt.IsZero())

		events := mt.GetAllStartedEvents()
		require.Len(t, events, 6)
		assert.Equal(t, "insert", events[3].CommandName)
		assert.Equal(t, "update", events[5].CommandName, "count is persisted after the insert")
	})

	mt.Run("application module resolves the student through the application", func(mt *mtest.T) {
		segID := primitive.NewObjectID()
		appID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "admissions.segments", mtest.FirstBatch, segmentDoc(segID, ModuleApplication)),
			mtest.CreateCursorResponse(0, "admissions.applications", mtest.FirstBatch, bson.D{
				{Key: "student_id", Value: "stu-9"},
			}),
			studentDocResponse("admissions.students"),
			emptyCountResponse("admissions.segment_members"),
			mtest.CreateSuccessResponse(),
			countResponse("admissions.segment_members", 1),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
		)

		store := NewStore(mt.DB)
		rec, err := store.AssignEntity(context.Background(), segID.Hex(), appID.Hex())
		require.NoError(t, err)
		assert.Equal(t, appID.Hex(), rec.ApplicationID)
		assert.Equal(t, "stu-9", rec.StudentID)
	})

	mt.Run("missing student is not found", func(mt *mtest.T) {
		segID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "admissions.segments", mtest.FirstBatch, segmentDoc(segID, ModuleLead)),
			mtest.CreateCursorResponse(0, "admissions.students", mtest.FirstBatch),
		)

		store := NewStore(mt.DB)
		_, err := store.AssignEntity(context.Background(), segID.Hex(), "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRecountMembers_Idempotent(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("repeated recounts converge on the full count", func(mt *mtest.T) {
		segID := primitive.NewObjectID()
		mt.AddMockResponses(
			countResponse("admissions.segment_members", 7),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			countResponse("admissions.segment_members", 7),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}),
		)

		store := NewStore(mt.DB)
		first, err := store.RecountMembers(context.Background(), segID.Hex())
		require.NoError(t, err)
		second, err := store.RecountMembers(context.Background(), segID.Hex())
		require.NoError(t, err)

		assert.Equal(t, int64(7), first)
		assert.Equal(t, first, second, "recount without intervening writes must not drift")
	})

	mt.Run("bad id fails before touching the store", func(mt *mtest.T) {
		store := NewStore(mt.DB)
		_, err := store.RecountMembers(context.Background(), "not-an-id")
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})
}
