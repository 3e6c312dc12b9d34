package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/crestview/admissions-crm/internal/segment"
)

func TestCompileFilter_Empty(t *testing.T) {
	got := CompileFilter(segment.FilterSpec{}, nil)
	assert.Equal(t, bson.M{}, got, "an empty spec matches everything")
}

func TestCompileFilter_SingleClause(t *testing.T) {
	got := CompileFilter(segment.FilterSpec{Sources: []string{"website", "walk-in"}}, nil)
	assert.Equal(t, bson.M{"source": bson.M{"$in": []string{"website", "walk-in"}}}, got,
		"a single clause is not wrapped in $and")
}

func TestCompileFilter_MultipleClausesAnded(t *testing.T) {
	verified := true
	got := CompileFilter(segment.FilterSpec{
		StateCodes:   []string{"KA"},
		CounselorIDs: []string{"c-1"},
		IsVerified:   &verified,
	}, nil)

	and, ok := got["$and"].([]bson.M)
	require.True(t, ok, "expected $and wrapper, got %v", got)
	assert.Contains(t, and, bson.M{"state": bson.M{"$in": []string{"KA"}}})
	assert.Contains(t, and, bson.M{"counselor_id": bson.M{"$in": []string{"c-1"}}})
	assert.Contains(t, and, bson.M{"is_verified": true})
}

func TestCompileFilter_Courses(t *testing.T) {
	got := CompileFilter(segment.FilterSpec{
		CourseIDs:             []string{"c1", "c2"},
		CourseSpecializations: []string{"Quantum", ""},
	}, nil)

	want := bson.M{"$or": []bson.M{
		{"course_id": "c1", "course_specialization": "Quantum"},
		{"course_id": "c2"},
	}}
	assert.Equal(t, want, got)
}

func TestCompileFilter_StageChange(t *testing.T) {
	got := CompileFilter(segment.FilterSpec{
		StageChange: &segment.StageTransition{From: "enquiry", To: "applied"},
	}, nil)

	want := bson.M{"stage_transitions": bson.M{"$elemMatch": bson.M{
		"from": "enquiry",
		"to":   "applied",
	}}}
	assert.Equal(t, want, got)
}

func TestCompileFilter_DateRange(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	t.Run("both bounds", func(t *testing.T) {
		got := CompileFilter(segment.FilterSpec{Dates: &segment.DateRange{From: from, To: to}}, nil)
		assert.Equal(t, bson.M{"created_at": bson.M{"$gte": from, "$lte": to}}, got)
	})

	t.Run("open upper bound", func(t *testing.T) {
		got := CompileFilter(segment.FilterSpec{Dates: &segment.DateRange{From: from}}, nil)
		assert.Equal(t, bson.M{"created_at": bson.M{"$gte": from}}, got)
	})

	t.Run("zero range adds nothing", func(t *testing.T) {
		got := CompileFilter(segment.FilterSpec{Dates: &segment.DateRange{}}, nil)
		assert.Equal(t, bson.M{}, got)
	})
}

func TestCompileFilter_AdvancedFiltersAppended(t *testing.T) {
	advanced := []bson.M{
		{"score": bson.M{"$gte": 80}},
		{}, // empty advanced filters are dropped
	}
	got := CompileFilter(segment.FilterSpec{PaymentStatus: "paid"}, advanced)

	and, ok := got["$and"].([]bson.M)
	require.True(t, ok)
	require.Len(t, and, 2)
	assert.Contains(t, and, bson.M{"payment_status": "paid"})
	assert.Contains(t, and, bson.M{"score": bson.M{"$gte": 80}})
}

func TestModuleCollections(t *testing.T) {
	tests := []struct {
		module segment.Module
		coll   string
	}{
		{segment.ModuleLead, "students"},
		{segment.ModuleApplication, "applications"},
		{segment.ModuleRawData, "raw_data"},
		{segment.ModulePayment, "payments"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.coll, moduleCollections[tt.module])
	}
}
