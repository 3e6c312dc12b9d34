package segment

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// previewCap bounds the live entity preview computed for dynamic segments.
const previewCap = 5

// StateResolver resolves a state code into a display name. Implemented by the
// reference cache; lookups are issued one code at a time.
type StateResolver interface {
	StateName(ctx context.Context, code string) (string, error)
}

// FilterEvaluator turns a Filter Specification into matching entities for a
// module. Backs dynamic-segment counts and previews.
type FilterEvaluator interface {
	Evaluate(ctx context.Context, module Module, filters FilterSpec, advanced []bson.M, previewLimit int64) (int64, []EntityPreview, error)
}

// TokenIssuer mints the short-lived, single-use access token a shareable
// read-only link is built from.
type TokenIssuer interface {
	Issue(ctx context.Context, segmentID string) (string, error)
}

// Engine runs compiled queries and turns raw segment documents into the
// caller-facing representation: resolved display names, computed counts,
// communication statistics and share links.
type Engine struct {
	store     *Store
	states    StateResolver
	evaluator FilterEvaluator
	tokens    TokenIssuer
	shareBase string
}

// NewEngine wires the engine to its collaborators. shareBase is the public
// base URL shareable links are rooted at.
func NewEngine(store *Store, states StateResolver, evaluator FilterEvaluator, tokens TokenIssuer, shareBase string) *Engine {
	return &Engine{
		store:     store,
		states:    states,
		evaluator: evaluator,
		tokens:    tokens,
		shareBase: shareBase,
	}
}

// Store exposes the underlying store for direct access.
func (e *Engine) Store() *Store { return e.store }

// BuildPipeline compiles the listing pipeline for the given target ids without
// running it. Callers composing larger queries start from this.
func (e *Engine) BuildPipeline(segmentIDs []primitive.ObjectID) mongo.Pipeline {
	return NewPipelineBuilder(ListParams{SegmentIDs: segmentIDs}).Build()
}

// ==========================================
// COMPILE AND RUN
// ==========================================

// List compiles and runs the listing pipeline, then enriches every row.
// PageNum and PageSize must be supplied together or not at all.
func (e *Engine) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if (params.PageNum > 0) != (params.PageSize > 0) {
		return nil, Validationf("page_num and page_size must be supplied together")
	}
	if params.PageNum < 0 || params.PageSize < 0 {
		return nil, Validationf("page_num and page_size must be positive")
	}

	rows, total, err := e.store.RunList(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Total: total, Segments: make([]Summary, 0, len(rows))}
	for i := range rows {
		result.Segments = append(result.Segments, e.summarize(ctx, &rows[i]))
	}
	return result, nil
}

// summarize builds the list-view shape from one compiled row.
func (e *Engine) summarize(ctx context.Context, row *listRow) Summary {
	sum := Summary{
		ID:              row.ID,
		Name:            row.Name,
		Description:     row.Description,
		ModuleName:      row.ModuleName,
		SegmentType:     row.SegmentType,
		Status:          row.StatusField,
		IsPublished:     row.IsPublished,
		DataCount:       row.DataCount,
		CountAtOrigin:   row.CountAtOrigin,
		AutomationRules: row.AutomationRefs,
		SharedWith:      row.SharedWith,
		Communication:   StatsFor(row.Communication),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}

	sum.StateNames = e.stateNames(ctx, row.Filters.StateCodes)

	for _, u := range row.CounselorDocs {
		sum.CounselorNames = append(sum.CounselorNames, u.Name)
	}

	courses := DecodeCourses(row.Filters.CourseIDs, row.Filters.CourseSpecializations, courseNames(row.CourseDocs, row.Filters.CourseIDs))
	sum.CourseLabels = CourseLabels(courses)

	if row.SegmentType == TypeDynamic {
		count, _, err := e.evaluator.Evaluate(ctx, row.ModuleName, row.Filters, row.AdvancedFilters, 0)
		if err != nil {
			log.Printf("[segments] live count for %s failed: %v", row.ID.Hex(), err)
		} else {
			sum.DataCount = count
		}
	}
	return sum
}

// stateNames resolves state codes sequentially, one lookup per code. A code
// the reference table does not know falls back to the raw code.
func (e *Engine) stateNames(ctx context.Context, codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		name, err := e.states.StateName(ctx, code)
		if err != nil || name == "" {
			name = code
		}
		names = append(names, name)
	}
	return names
}

// courseNames reorders the joined course docs to follow the filter's id order,
// so the positional decode pairs names with the right selections.
func courseNames(docs []nameDoc, ids []string) []string {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[string]string, len(docs))
	for _, d := range docs {
		byID[d.ID.Hex()] = d.Name
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = byID[id]
	}
	return names
}

// ==========================================
// DETAIL VIEW
// ==========================================

// Describe resolves one segment and returns the detail shape: the summary plus
// the full filter specification, audit fields, a capped live preview for
// dynamic segments, and a shareable read-only link.
func (e *Engine) Describe(ctx context.Context, sel Selector) (*Detail, error) {
	seg, err := e.store.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}

	rows, _, err := e.store.RunList(ctx, ListParams{SegmentIDs: []primitive.ObjectID{seg.ID}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("segment: %w", ErrNotFound)
	}
	row := &rows[0]

	detail := &Detail{
		Summary:         e.summarize(ctx, row),
		Filters:         row.Filters,
		AdvancedFilters: row.AdvancedFilters,
		CreatedBy:       row.CreatedBy,
		CreatedByName:   row.CreatedByName,
		UpdatedBy:       row.UpdatedBy,
		UpdatedByName:   row.UpdatedByName,
	}
	detail.Courses = DecodeCourses(row.Filters.CourseIDs, row.Filters.CourseSpecializations, courseNames(row.CourseDocs, row.Filters.CourseIDs))

	if row.SegmentType == TypeDynamic {
		_, preview, err := e.evaluator.Evaluate(ctx, row.ModuleName, row.Filters, row.AdvancedFilters, previewCap)
		if err != nil {
			log.Printf("[segments] live preview for %s failed: %v", row.ID.Hex(), err)
		} else {
			detail.LivePreview = preview
		}
	}

	token, err := e.tokens.Issue(ctx, seg.ID.Hex())
	if err != nil {
		log.Printf("[segments] share token for %s failed: %v", seg.ID.Hex(), err)
	} else {
		detail.ShareLink = fmt.Sprintf("%s/segments/shared?token=%s", e.shareBase, token)
	}
	return detail, nil
}

// ==========================================
// LIFECYCLE
// ==========================================

// Create inserts a new segment. Dynamic segments get their origin count from a
// live evaluation of the filters; static segments start at zero members.
func (e *Engine) Create(ctx context.Context, seg *Segment) error {
	if seg.SegmentType == "" {
		seg.SegmentType = TypeDynamic
	}
	if seg.SegmentType == TypeDynamic {
		count, _, err := e.evaluator.Evaluate(ctx, seg.ModuleName, seg.Filters, seg.AdvancedFilters, 0)
		if err != nil {
			return fmt.Errorf("evaluate filters: %w", err)
		}
		seg.DataCount = count
	}
	return e.store.Create(ctx, seg)
}
