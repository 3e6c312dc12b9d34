package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseID(t *testing.T) {
	valid := primitive.NewObjectID().Hex()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid hex", valid, false},
		{"valid with surrounding spaces", "  " + valid + "  ", false},
		{"too short", "abc123", true},
		{"wrong characters", "zzzzzzzzzzzzzzzzzzzzzzzz", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, id.Hex())
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"north region leads", "North Region Leads"},
		{"NORTH REGION", "North Region"},
		{"  padded   name  ", "Padded Name"},
		{"already Title", "Already Title"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.input), "input %q", tt.input)
	}
}

func TestDecodeCourses(t *testing.T) {
	t.Run("aligned arrays zip by position", func(t *testing.T) {
		got := DecodeCourses(
			[]string{"c1", "c2"},
			[]string{"Quantum", ""},
			[]string{"Physics", "Chemistry"},
		)
		want := []CourseSelection{
			{ID: "c1", Specialization: "Quantum", Name: "Physics"},
			{ID: "c2", Name: "Chemistry"},
		}
		assert.Equal(t, want, got)
	})

	t.Run("short companion arrays leave fields empty", func(t *testing.T) {
		got := DecodeCourses([]string{"c1", "c2", "c3"}, []string{"Quantum"}, nil)
		require.Len(t, got, 3)
		assert.Equal(t, CourseSelection{ID: "c1", Specialization: "Quantum"}, got[0])
		assert.Equal(t, CourseSelection{ID: "c2"}, got[1])
		assert.Equal(t, CourseSelection{ID: "c3"}, got[2])
	})

	t.Run("no ids means no selections", func(t *testing.T) {
		assert.Nil(t, DecodeCourses(nil, []string{"Quantum"}, []string{"Physics"}))
	})
}

func TestCourseSelectionLabel(t *testing.T) {
	withSpec := CourseSelection{ID: "c1", Name: "Physics", Specialization: "Quantum Mechanics"}
	assert.Equal(t, "Physics in Quantum Mechanics", withSpec.Label())

	noSpec := CourseSelection{ID: "c2", Name: "Physics"}
	assert.Equal(t, "Physics Program", noSpec.Label())
}

func TestCourseLabels(t *testing.T) {
	labels := CourseLabels([]CourseSelection{
		{Name: "Physics", Specialization: "Quantum"},
		{Name: "Chemistry"},
	})
	assert.Equal(t, []string{"Physics in Quantum", "Chemistry Program"}, labels)
	assert.Nil(t, CourseLabels(nil))
}

func TestWithRates(t *testing.T) {
	t.Run("rates derived when sent is positive", func(t *testing.T) {
		s := withRates(ChannelCounters{Sent: 200, Opened: 50, Clicked: 10, Delivered: 180})
		require.NotNil(t, s.OpenRate)
		require.NotNil(t, s.ClickRate)
		require.NotNil(t, s.DeliveryRate)
		assert.InDelta(t, 0.25, *s.OpenRate, 1e-9)
		assert.InDelta(t, 0.05, *s.ClickRate, 1e-9)
		assert.InDelta(t, 0.90, *s.DeliveryRate, 1e-9)
	})

	t.Run("zero sent leaves rates absent", func(t *testing.T) {
		s := withRates(ChannelCounters{Sent: 0, Opened: 5})
		assert.Nil(t, s.OpenRate)
		assert.Nil(t, s.ClickRate)
		assert.Nil(t, s.DeliveryRate)
		assert.Equal(t, int64(5), s.Opened)
	})
}

func TestStatsFor(t *testing.T) {
	info := StatsFor(Communication{
		Email: ChannelCounters{Sent: 10, Opened: 4},
		SMS:   ChannelCounters{Sent: 0},
	})
	require.NotNil(t, info.Email.OpenRate)
	assert.InDelta(t, 0.4, *info.Email.OpenRate, 1e-9)
	assert.Nil(t, info.SMS.OpenRate)
	assert.Nil(t, info.WhatsApp.OpenRate)
}
