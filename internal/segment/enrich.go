package segment

import (
	"fmt"
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ==========================================
// IDENTIFIERS & NAMES
// ==========================================

// ParseID validates and parses a store-native id. A malformed or wrong-length
// id fails with ErrInvalidIdentifier.
func ParseID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return id, nil
}

// NormalizeName title-cases a segment name. The same normalization is applied
// at write time and to name lookups, which is what makes names comparable.
func NormalizeName(name string) string {
	words := strings.Fields(strings.TrimSpace(name))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// ==========================================
// COURSE DECODING
// ==========================================

// DecodeCourses zips the legacy positional course arrays into structured
// selections. Element i of ids, specializations and names belong together;
// a shorter specializations or names array leaves the missing fields empty
// rather than failing, since stored documents predate the structured form.
func DecodeCourses(ids, specializations, names []string) []CourseSelection {
	if len(ids) == 0 {
		return nil
	}
	out := make([]CourseSelection, len(ids))
	for i, id := range ids {
		c := CourseSelection{ID: id}
		if i < len(specializations) {
			c.Specialization = specializations[i]
		}
		if i < len(names) {
			c.Name = names[i]
		}
		out[i] = c
	}
	return out
}

// Label formats the course display string: "{name} in {specialization}" when a
// specialization is present, else "{name} Program".
func (c CourseSelection) Label() string {
	if c.Specialization != "" {
		return fmt.Sprintf("%s in %s", c.Name, c.Specialization)
	}
	return fmt.Sprintf("%s Program", c.Name)
}

// CourseLabels formats every decoded selection.
func CourseLabels(courses []CourseSelection) []string {
	if len(courses) == 0 {
		return nil
	}
	labels := make([]string, len(courses))
	for i, c := range courses {
		labels[i] = c.Label()
	}
	return labels
}

// ==========================================
// RATE DERIVATION
// ==========================================

// withRates derives the per-channel rates from raw counters. With zero sent
// the rate pointers stay nil so the fields are absent from the output, never
// zero.
func withRates(c ChannelCounters) ChannelStats {
	s := ChannelStats{
		Sent:      c.Sent,
		Opened:    c.Opened,
		Clicked:   c.Clicked,
		Delivered: c.Delivered,
	}
	if c.Sent > 0 {
		open := float64(c.Opened) / float64(c.Sent)
		click := float64(c.Clicked) / float64(c.Sent)
		delivery := float64(c.Delivered) / float64(c.Sent)
		s.OpenRate = &open
		s.ClickRate = &click
		s.DeliveryRate = &delivery
	}
	return s
}

// StatsFor expands embedded counters into the aggregated-statistic shape.
func StatsFor(c Communication) CommunicationInfo {
	return CommunicationInfo{
		Email:    withRates(c.Email),
		SMS:      withRates(c.SMS),
		WhatsApp: withRates(c.WhatsApp),
	}
}
