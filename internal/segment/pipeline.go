package segment

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Collection names the compiler joins against.
const (
	CollSegments             = "segments"
	CollSegmentMembers       = "segment_members"
	CollAutomationRules      = "automation_rules"
	CollAutomationActivities = "automation_activities"
	CollUsers                = "users"
	CollCourses              = "courses"
	CollNotifications        = "notifications"
)

// Facet branch keys of the final pipeline stage.
const (
	facetData  = "paginatedResults"
	facetCount = "totalCount"
)

// PipelineBuilder compiles listing parameters into an ordered sequence of
// aggregation stages. Stage order is fixed by contract:
//
//	[id match] -> [search flag + match] -> [combined AND match] ->
//	sort -> project -> rules lookup -> users lookup -> courses lookup -> facet
//
// The id match, search stages and combined match are emitted only when their
// inputs are supplied; the tail from sort onward is always present.
type PipelineBuilder struct {
	params ListParams
}

// NewPipelineBuilder creates a builder for the given parameters.
func NewPipelineBuilder(params ListParams) *PipelineBuilder {
	return &PipelineBuilder{params: params}
}

// Build assembles the complete pipeline.
func (b *PipelineBuilder) Build() mongo.Pipeline {
	p := mongo.Pipeline{}

	if len(b.params.SegmentIDs) > 0 {
		p = append(p, matchIDsStage(b.params.SegmentIDs))
	}
	if b.params.Search != "" {
		p = append(p, searchStages(b.params.Search)...)
	}
	if filter := b.combinedFilter(); len(filter) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: filter}})
	}

	p = append(p, baseStages()...)
	p = append(p, facetStage(b.params.PageNum, b.params.PageSize))
	return p
}

// combinedFilter builds the single logical-AND match document from the
// optional equality/membership filters. Empty means the stage is skipped.
func (b *PipelineBuilder) combinedFilter() bson.D {
	filter := bson.D{}
	if b.params.CollegeID != "" {
		filter = append(filter, bson.E{Key: "college_id", Value: b.params.CollegeID})
	}
	if b.params.SharedWithUser != "" {
		filter = append(filter, bson.E{Key: "shared_with.user_id", Value: b.params.SharedWithUser})
	}
	if b.params.Status != "" {
		filter = append(filter, bson.E{Key: "enabled", Value: b.params.Status == StatusActive})
	}
	if len(b.params.ModuleNames) > 0 {
		filter = append(filter, bson.E{Key: "module_name", Value: bson.D{{Key: "$in", Value: b.params.ModuleNames}}})
	}
	if b.params.SegmentType != "" {
		filter = append(filter, bson.E{Key: "segment_type", Value: b.params.SegmentType})
	}
	if len(b.params.CounselorIDs) > 0 {
		filter = append(filter, bson.E{Key: "filters.counselor_id", Value: bson.D{{Key: "$in", Value: b.params.CounselorIDs}}})
	}
	return filter
}

// matchIDsStage restricts results to exactly the supplied segment ids.
func matchIDsStage(ids []primitive.ObjectID) bson.D {
	return bson.D{{Key: "$match", Value: bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}},
	}}}
}

// searchStages computes a case-insensitive substring match flag against the
// segment name, then filters out non-matches. The search term is a literal
// substring, so regex metacharacters are escaped before compilation.
func searchStages(search string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$addFields", Value: bson.D{
			{Key: "name_match", Value: bson.D{{Key: "$regexMatch", Value: bson.D{
				{Key: "input", Value: "$name"},
				{Key: "regex", Value: regexp.QuoteMeta(search)},
				{Key: "options", Value: "i"},
			}}}},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "name_match", Value: true}}}},
	}
}

// baseStages is the fixed tail that runs for every listing: newest-first sort,
// field projection with the derived status, and the three resolution joins.
func baseStages() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
		projectStage(),
		rulesLookupStage(),
		usersLookupStage(),
		coursesLookupStage(),
	}
}

func projectStage() bson.D {
	return bson.D{{Key: "$project", Value: bson.D{
		{Key: "name", Value: 1},
		{Key: "description", Value: 1},
		{Key: "college_id", Value: 1},
		{Key: "module_name", Value: 1},
		{Key: "segment_type", Value: 1},
		{Key: "filters", Value: 1},
		{Key: "advanced_filters", Value: 1},
		{Key: "enabled", Value: 1},
		{Key: "is_published", Value: 1},
		{Key: "count_at_origin", Value: 1},
		{Key: "data_count", Value: 1},
		{Key: "shared_with", Value: 1},
		{Key: "communication", Value: 1},
		{Key: "created_by", Value: 1},
		{Key: "created_by_name", Value: 1},
		{Key: "created_at", Value: 1},
		{Key: "updated_by", Value: 1},
		{Key: "updated_by_name", Value: 1},
		{Key: "updated_at", Value: 1},
		{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{"$enabled", StatusActive, StatusClosed}}}},
	}}}
}

// rulesLookupStage joins automation rules referencing this segment, keeping
// only rule id, name and data type per match.
func rulesLookupStage() bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: CollAutomationRules},
		{Key: "let", Value: bson.D{{Key: "sid", Value: "$_id"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
				{Key: "$eq", Value: bson.A{"$segment_id", "$$sid"}},
			}}}}},
			{{Key: "$project", Value: bson.D{
				{Key: "_id", Value: 1},
				{Key: "name", Value: 1},
				{Key: "data_type", Value: 1},
			}}},
		}},
		{Key: "as", Value: "automation_rules"},
	}}}
}

// usersLookupStage resolves the counselor ids referenced by the segment's
// filters into user documents (name only).
func usersLookupStage() bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: CollUsers},
		{Key: "let", Value: bson.D{{Key: "cids", Value: "$filters.counselor_id"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
				{Key: "$in", Value: bson.A{
					bson.D{{Key: "$toString", Value: "$_id"}},
					bson.D{{Key: "$ifNull", Value: bson.A{"$$cids", bson.A{}}}},
				}},
			}}}}},
			{{Key: "$project", Value: bson.D{{Key: "name", Value: 1}}}},
		}},
		{Key: "as", Value: "counselor_users"},
	}}}
}

// coursesLookupStage resolves course ids into names, collapsed into a single
// course_names array per segment.
func coursesLookupStage() bson.D {
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: CollCourses},
		{Key: "let", Value: bson.D{{Key: "cids", Value: "$filters.course_id"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
				{Key: "$in", Value: bson.A{
					bson.D{{Key: "$toString", Value: "$_id"}},
					bson.D{{Key: "$ifNull", Value: bson.A{"$$cids", bson.A{}}}},
				}},
			}}}}},
			{{Key: "$project", Value: bson.D{{Key: "name", Value: 1}}}},
		}},
		{Key: "as", Value: "course_docs"},
	}}}
}

// facetStage branches into the page slice and a single-element count summary.
// Without pagination the data branch carries no skip/limit, meaning "all".
func facetStage(pageNum, pageSize int64) bson.D {
	data := mongo.Pipeline{}
	if pageNum > 0 && pageSize > 0 {
		data = append(data,
			bson.D{{Key: "$skip", Value: (pageNum - 1) * pageSize}},
			bson.D{{Key: "$limit", Value: pageSize}},
		)
	}
	return bson.D{{Key: "$facet", Value: bson.D{
		{Key: facetData, Value: data},
		{Key: facetCount, Value: mongo.Pipeline{
			{{Key: "$count", Value: "count"}},
		}},
	}}}
}

// totalFromFacet reads the count branch defensively: an empty branch means
// zero matches, not an error.
func totalFromFacet(counts []bson.M) int64 {
	if len(counts) == 0 {
		return 0
	}
	switch v := counts[0]["count"].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
