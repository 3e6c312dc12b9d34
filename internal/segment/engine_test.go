package segment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStates struct {
	names map[string]string
	err   error
}

func (f fakeStates) StateName(_ context.Context, code string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[code], nil
}

type fakeEvaluator struct {
	count   int64
	preview []EntityPreview
	err     error
}

func (f fakeEvaluator) Evaluate(context.Context, Module, FilterSpec, []bson.M, int64) (int64, []EntityPreview, error) {
	return f.count, f.preview, f.err
}

func TestEngineList_PagePairValidation(t *testing.T) {
	e := NewEngine(nil, fakeStates{}, fakeEvaluator{}, nil, "")

	tests := []struct {
		name    string
		params  ListParams
		wantErr bool
	}{
		{"page num without size", ListParams{PageNum: 1}, true},
		{"page size without num", ListParams{PageSize: 10}, true},
		{"negative page num", ListParams{PageNum: -1, PageSize: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.List(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected a validation error, got %v", err)
		})
	}
}

func TestEngineStateNames(t *testing.T) {
	e := NewEngine(nil, fakeStates{names: map[string]string{"KA": "Karnataka", "MH": "Maharashtra"}}, fakeEvaluator{}, nil, "")

	t.Run("resolved in order", func(t *testing.T) {
		got := e.stateNames(context.Background(), []string{"MH", "KA"})
		assert.Equal(t, []string{"Maharashtra", "Karnataka"}, got)
	})

	t.Run("unknown code falls back to the raw code", func(t *testing.T) {
		got := e.stateNames(context.Background(), []string{"KA", "XX"})
		assert.Equal(t, []string{"Karnataka", "XX"}, got)
	})

	t.Run("resolver error falls back to the raw code", func(t *testing.T) {
		broken := NewEngine(nil, fakeStates{err: errors.New("redis down")}, fakeEvaluator{}, nil, "")
		got := broken.stateNames(context.Background(), []string{"KA"})
		assert.Equal(t, []string{"KA"}, got)
	})

	t.Run("no codes", func(t *testing.T) {
		assert.Nil(t, e.stateNames(context.Background(), nil))
	})
}

func TestCourseNames_ReorderedByFilterOrder(t *testing.T) {
	idA := primitive.NewObjectID()
	idB := primitive.NewObjectID()

	// Join results arrive in store order, not filter order.
	docs := []nameDoc{
		{ID: idB, Name: "Chemistry"},
		{ID: idA, Name: "Physics"},
	}

	got := courseNames(docs, []string{idA.Hex(), idB.Hex()})
	assert.Equal(t, []string{"Physics", "Chemistry"}, got)
}

func TestCourseNames_MissingDocLeavesBlank(t *testing.T) {
	idA := primitive.NewObjectID()
	docs := []nameDoc{{ID: idA, Name: "Physics"}}

	got := courseNames(docs, []string{idA.Hex(), "unknown"})
	assert.Equal(t, []string{"Physics", ""}, got)
}

func TestCourseNames_NoDocs(t *testing.T) {
	assert.Nil(t, courseNames(nil, []string{"c1"}))
}

func TestEngineSummarize_DynamicLiveCount(t *testing.T) {
	row := &listRow{
		Segment: Segment{
			ID:          primitive.NewObjectID(),
			Name:        "North Region",
			ModuleName:  ModuleLead,
			SegmentType: TypeDynamic,
			DataCount:   42,
		},
		StatusField: StatusActive,
	}

	t.Run("live count replaces the stored count", func(t *testing.T) {
		e := NewEngine(nil, fakeStates{}, fakeEvaluator{count: 97}, nil, "")
		sum := e.summarize(context.Background(), row)
		assert.Equal(t, int64(97), sum.DataCount)
	})

	t.Run("evaluator failure keeps the stored count", func(t *testing.T) {
		e := NewEngine(nil, fakeStates{}, fakeEvaluator{err: errors.New("store unreachable")}, nil, "")
		sum := e.summarize(context.Background(), row)
		assert.Equal(t, int64(42), sum.DataCount)
	})

	t.Run("static segments never evaluate", func(t *testing.T) {
		static := *row
		static.SegmentType = TypeStatic
		e := NewEngine(nil, fakeStates{}, fakeEvaluator{count: 97}, nil, "")
		sum := e.summarize(context.Background(), &static)
		assert.Equal(t, int64(42), sum.DataCount)
	})
}

func TestEngineSummarize_CourseLabels(t *testing.T) {
	idA := primitive.NewObjectID()
	row := &listRow{
		Segment: Segment{
			ID:          primitive.NewObjectID(),
			ModuleName:  ModuleApplication,
			SegmentType: TypeStatic,
			Filters: FilterSpec{
				CourseIDs:             []string{idA.Hex()},
				CourseSpecializations: []string{"Quantum"},
			},
		},
		StatusField: StatusActive,
		CourseDocs:  []nameDoc{{ID: idA, Name: "Physics"}},
	}

	e := NewEngine(nil, fakeStates{}, fakeEvaluator{}, nil, "")
	sum := e.summarize(context.Background(), row)
	assert.Equal(t, []string{"Physics in Quantum"}, sum.CourseLabels)
}
