package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/crestview/admissions-crm/internal/auth"
	"github.com/crestview/admissions-crm/internal/segment"
)

// SegmentsAPI handles data-segment endpoints
type SegmentsAPI struct {
	engine *segment.Engine
	tokens *auth.ShareTokens
}

// NewSegmentsAPI creates a new segments API handler
func NewSegmentsAPI(engine *segment.Engine, tokens *auth.ShareTokens) *SegmentsAPI {
	return &SegmentsAPI{engine: engine, tokens: tokens}
}

// RegisterRoutes registers segment routes under /api
func (api *SegmentsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/segments", func(r chi.Router) {
		r.Get("/", api.ListSegments)
		r.Post("/", api.CreateSegment)
		r.Get("/resolve", api.ResolveSegment)
		r.Delete("/resolve", api.DeleteSegment)
		r.Post("/status", api.ChangeStatus)
		r.Get("/quick-view", api.QuickView)
		r.Get("/communication", api.CommunicationInfo)
		r.Get("/top-performing", api.TopPerforming)
		r.Get("/shared", api.SharedView)

		r.Route("/{segmentID}", func(r chi.Router) {
			r.Get("/", api.GetSegment)
			r.Delete("/", api.DeleteSegmentByID)
			r.Put("/filters", api.UpdateFilters)
			r.Get("/members", api.ListMembers)
			r.Post("/members", api.AssignEntity)
			r.Get("/shared-users", api.ListSharedUsers)
			r.Put("/share-permission", api.UpdateSharePermission)
			r.Delete("/share-access/{userID}", api.RemoveShareAccess)
		})
	})
}

// ==========================================
// LISTING
// ==========================================

// ListSegments compiles and runs the listing pipeline from query parameters.
func (api *SegmentsAPI) ListSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := segment.ListParams{
		CollegeID:      q.Get("college_id"),
		Search:         q.Get("search"),
		Status:         segment.Status(q.Get("status")),
		SegmentType:    segment.Type(q.Get("segment_type")),
		SharedWithUser: q.Get("shared_with"),
		CounselorIDs:   csv(q.Get("counselor_id")),
		PageNum:        intParam(q.Get("page_num")),
		PageSize:       intParam(q.Get("page_size")),
	}
	for _, m := range csv(q.Get("module_name")) {
		params.ModuleNames = append(params.ModuleNames, segment.Module(m))
	}
	for _, raw := range csv(q.Get("id")) {
		id, err := segment.ParseID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		params.SegmentIDs = append(params.SegmentIDs, id)
	}

	result, err := api.engine.List(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, result)
}

// ==========================================
// LIFECYCLE
// ==========================================

// CreateSegmentRequest is the request body for creating a segment
type CreateSegmentRequest struct {
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	CollegeID       string             `json:"college_id,omitempty"`
	ModuleName      segment.Module     `json:"module_name"`
	SegmentType     segment.Type       `json:"segment_type,omitempty"`
	Filters         segment.FilterSpec `json:"filters"`
	AdvancedFilters []bson.M           `json:"advanced_filters,omitempty"`
	IsPublished     bool               `json:"is_published"`
	CreatedBy       string             `json:"created_by,omitempty"`
	CreatedByName   string             `json:"created_by_name,omitempty"`
}

// CreateSegment creates a new segment
func (api *SegmentsAPI) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req CreateSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	seg := &segment.Segment{
		Name:            req.Name,
		Description:     req.Description,
		CollegeID:       req.CollegeID,
		ModuleName:      req.ModuleName,
		SegmentType:     req.SegmentType,
		Filters:         req.Filters,
		AdvancedFilters: req.AdvancedFilters,
		Enabled:         true,
		IsPublished:     req.IsPublished,
		CreatedBy:       req.CreatedBy,
		CreatedByName:   req.CreatedByName,
	}
	if err := api.engine.Create(r.Context(), seg); err != nil {
		writeError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusCreated, seg)
}

// ResolveSegment resolves a segment by id or by name.
func (api *SegmentsAPI) ResolveSegment(w http.ResponseWriter, r *http.Request) {
	sel := segment.Selector{ID: r.URL.Query().Get("id"), Name: r.URL.Query().Get("name")}
	detail, err := api.engine.Describe(r.Context(), sel)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, detail)
}

// GetSegment returns the detail shape for one segment id.
func (api *SegmentsAPI) GetSegment(w http.ResponseWriter, r *http.Request) {
	detail, err := api.engine.Describe(r.Context(), segment.Selector{ID: chi.URLParam(r, "segmentID")})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, detail)
}

// DeleteSegment deletes a segment selected by id or name.
func (api *SegmentsAPI) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	sel := segment.Selector{ID: r.URL.Query().Get("id"), Name: r.URL.Query().Get("name")}
	if err := api.engine.Store().Delete(r.Context(), sel); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSegmentByID deletes a segment by path id.
func (api *SegmentsAPI) DeleteSegmentByID(w http.ResponseWriter, r *http.Request) {
	if err := api.engine.Store().Delete(r.Context(), segment.Selector{ID: chi.URLParam(r, "segmentID")}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeStatusRequest enables or disables a batch of segments
type ChangeStatusRequest struct {
	IDs    []string       `json:"ids"`
	Status segment.Status `json:"status"`
}

// ChangeStatus enables or disables segments in bulk.
func (api *SegmentsAPI) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := api.engine.Store().ChangeStatus(r.Context(), req.IDs, req.Status); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"updated": len(req.IDs), "status": req.Status})
}

// UpdateFiltersRequest replaces a segment's filter specification
type UpdateFiltersRequest struct {
	Filters         segment.FilterSpec `json:"filters"`
	AdvancedFilters []bson.M           `json:"advanced_filters,omitempty"`
	UpdatedBy       string             `json:"updated_by,omitempty"`
	UpdatedByName   string             `json:"updated_by_name,omitempty"`
}

// UpdateFilters replaces a segment's filters.
func (api *SegmentsAPI) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	var req UpdateFiltersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sel := segment.Selector{ID: chi.URLParam(r, "segmentID")}
	if err := api.engine.Store().UpdateFilters(r.Context(), sel, req.Filters, req.AdvancedFilters, req.UpdatedBy, req.UpdatedByName); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"})
}

// ==========================================
// MEMBERSHIP
// ==========================================

// AssignEntityRequest attaches one entity to a segment
type AssignEntityRequest struct {
	EntityID string `json:"entity_id"`
}

// AssignEntity manually assigns a student or application to a segment.
func (api *SegmentsAPI) AssignEntity(w http.ResponseWriter, r *http.Request) {
	var req AssignEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rec, err := api.engine.Store().AssignEntity(r.Context(), chi.URLParam(r, "segmentID"), req.EntityID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSONStatus(w, http.StatusCreated, rec)
}

// ListMembers returns a page of membership records.
func (api *SegmentsAPI) ListMembers(w http.ResponseWriter, r *http.Request) {
	offset := intParam(r.URL.Query().Get("offset"))
	limit := intParam(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 100
	}
	records, err := api.engine.Store().ListMembers(r.Context(), chi.URLParam(r, "segmentID"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"count": len(records), "members": records})
}

// ==========================================
// STATISTICS
// ==========================================

// CommunicationInfo returns summed communication counters.
func (api *SegmentsAPI) CommunicationInfo(w http.ResponseWriter, r *http.Request) {
	info, err := api.engine.Store().CommunicationInfo(r.Context(),
		r.URL.Query().Get("segment_id"),
		segment.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, info)
}

// QuickView returns per-module segment counts.
func (api *SegmentsAPI) QuickView(w http.ResponseWriter, r *http.Request) {
	counts, err := api.engine.Store().QuickViewCounts(r.Context(),
		segment.Status(r.URL.Query().Get("status")),
		csv(r.URL.Query().Get("counselor_id")))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, counts)
}

// TopPerforming returns the communication performance rollup.
func (api *SegmentsAPI) TopPerforming(w http.ResponseWriter, r *http.Request) {
	rollup, err := api.engine.Store().TopPerformingSegments(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, rollup)
}

// ==========================================
// SHARING
// ==========================================

// SharedView redeems a single-use share token and returns the read-only
// detail of the segment it is scoped to.
func (api *SegmentsAPI) SharedView(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	segmentID, err := api.tokens.Redeem(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	detail, err := api.engine.Describe(r.Context(), segment.Selector{ID: segmentID})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, detail)
}

// ListSharedUsers returns a segment's share-grant list.
func (api *SegmentsAPI) ListSharedUsers(w http.ResponseWriter, r *http.Request) {
	grants, err := api.engine.Store().SharedUsers(r.Context(), chi.URLParam(r, "segmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"count": len(grants), "shared_with": grants})
}

// UpdateSharePermissionRequest changes one grant's permission
type UpdateSharePermissionRequest struct {
	Email      string             `json:"email,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	Permission segment.Permission `json:"permission"`
}

// UpdateSharePermission changes a user's permission on a segment.
func (api *SegmentsAPI) UpdateSharePermission(w http.ResponseWriter, r *http.Request) {
	var req UpdateSharePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key := segment.GrantKey{Email: req.Email, UserID: req.UserID}
	if err := api.engine.Store().UpdateSharePermission(r.Context(), chi.URLParam(r, "segmentID"), key, req.Permission); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"})
}

// RemoveShareAccess removes a user's grant from a segment.
func (api *SegmentsAPI) RemoveShareAccess(w http.ResponseWriter, r *http.Request) {
	if err := api.engine.Store().RemoveShareAccess(r.Context(), chi.URLParam(r, "segmentID"), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==========================================
// HELPERS
// ==========================================

func csv(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

// respondJSONStatus sets Content-Type before the status line is written.
func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError translates the engine's error taxonomy into response codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, segment.ErrInvalidIdentifier):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, segment.ErrNoSelector):
		http.Error(w, "provide an id or a name", http.StatusBadRequest)
	case segment.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, segment.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, segment.ErrDuplicateMembership):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrTokenInvalid):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
