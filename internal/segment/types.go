// Package segment implements the data-segment engine: user-authored filter
// specifications compiled into document-store aggregation pipelines, executed
// and enriched for the API layer, with membership and sharing bookkeeping.
package segment

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ==========================================
// ENUMS
// ==========================================

// Module is the entity scope a segment filters over.
type Module string

const (
	ModuleLead        Module = "Lead"
	ModuleApplication Module = "Application"
	ModuleRawData     Module = "Raw Data"
	ModulePayment     Module = "Payment"
)

// ValidModule reports whether m is one of the four known module scopes.
func ValidModule(m Module) bool {
	switch m {
	case ModuleLead, ModuleApplication, ModuleRawData, ModulePayment:
		return true
	}
	return false
}

// Type distinguishes live-evaluated segments from recorded ones.
type Type string

const (
	TypeDynamic Type = "dynamic" // membership recomputed from filters at read time
	TypeStatic  Type = "static"  // membership is whatever the member store records
)

// Status is the derived segment status exposed to callers.
type Status string

const (
	StatusActive Status = "Active" // enabled
	StatusClosed Status = "Closed" // disabled
)

// Permission is the access level of a share grant.
type Permission string

const (
	PermissionViewer      Permission = "viewer"
	PermissionContributor Permission = "contributor"
)

// ValidPermission reports whether p is a known permission level.
func ValidPermission(p Permission) bool {
	return p == PermissionViewer || p == PermissionContributor
}

// ==========================================
// FILTER SPECIFICATION
// ==========================================

// StageTransition describes a lead/application stage change filter.
type StageTransition struct {
	From string `json:"from,omitempty" bson:"from,omitempty"`
	To   string `json:"to,omitempty" bson:"to,omitempty"`
}

// DateRange bounds a filter by creation time. Zero values mean unbounded.
type DateRange struct {
	From time.Time `json:"from,omitempty" bson:"from,omitempty"`
	To   time.Time `json:"to,omitempty" bson:"to,omitempty"`
}

// FilterSpec is the declarative membership criteria of a segment. A zero/empty
// field means no constraint on that dimension.
//
// CourseIDs and CourseSpecializations are a legacy join-by-position pair:
// element i of each belongs to the same course selection. They are decoded
// once at the read boundary via DecodeCourses; nothing downstream should
// index them positionally.
type FilterSpec struct {
	Sources               []string         `json:"source,omitempty" bson:"source,omitempty"`
	StateCodes            []string         `json:"state,omitempty" bson:"state,omitempty"`
	CounselorIDs          []string         `json:"counselor_id,omitempty" bson:"counselor_id,omitempty"`
	CourseIDs             []string         `json:"course_id,omitempty" bson:"course_id,omitempty"`
	CourseSpecializations []string         `json:"course_specialization,omitempty" bson:"course_specialization,omitempty"`
	PaymentStatus         string           `json:"payment_status,omitempty" bson:"payment_status,omitempty"`
	IsVerified            *bool            `json:"is_verified,omitempty" bson:"is_verified,omitempty"`
	StageChange           *StageTransition `json:"stage_change,omitempty" bson:"stage_change,omitempty"`
	Dates                 *DateRange       `json:"date_range,omitempty" bson:"date_range,omitempty"`
}

// IsZero reports whether the filter carries no constraints at all.
func (f FilterSpec) IsZero() bool {
	return len(f.Sources) == 0 && len(f.StateCodes) == 0 && len(f.CounselorIDs) == 0 &&
		len(f.CourseIDs) == 0 && f.PaymentStatus == "" && f.IsVerified == nil &&
		f.StageChange == nil && f.Dates == nil
}

// CourseSelection is the structured form of one (id, specialization) pair,
// with the course display name filled in after the courses join.
type CourseSelection struct {
	ID             string `json:"course_id"`
	Specialization string `json:"specialization,omitempty"`
	Name           string `json:"course_name,omitempty"`
}

// ==========================================
// SEGMENT DOCUMENT
// ==========================================

// ShareGrant is one entry of a segment's embedded share list. At most one
// active grant exists per user id; permission updates mutate in place.
type ShareGrant struct {
	UserID     string     `json:"user_id" bson:"user_id"`
	Email      string     `json:"email,omitempty" bson:"email,omitempty"`
	Name       string     `json:"name,omitempty" bson:"name,omitempty"`
	Role       string     `json:"role,omitempty" bson:"role,omitempty"`
	Permission Permission `json:"permission" bson:"permission"`
}

// ChannelCounters holds per-channel communication counters on a segment.
type ChannelCounters struct {
	Sent      int64 `json:"sent" bson:"sent"`
	Opened    int64 `json:"opened" bson:"opened"`
	Clicked   int64 `json:"clicked" bson:"clicked"`
	Delivered int64 `json:"delivered" bson:"delivered"`
}

// Communication groups the per-channel counters embedded in a segment document.
type Communication struct {
	Email    ChannelCounters `json:"email" bson:"email"`
	SMS      ChannelCounters `json:"sms" bson:"sms"`
	WhatsApp ChannelCounters `json:"whatsapp" bson:"whatsapp"`
}

// Segment is a named, owned filter definition (segments collection).
type Segment struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name            string             `json:"name" bson:"name"` // stored title-cased, unique
	Description     string             `json:"description,omitempty" bson:"description,omitempty"`
	CollegeID       string             `json:"college_id,omitempty" bson:"college_id,omitempty"`
	ModuleName      Module             `json:"module_name" bson:"module_name"`
	SegmentType     Type               `json:"segment_type" bson:"segment_type"`
	Filters         FilterSpec         `json:"filters" bson:"filters"`
	AdvancedFilters []bson.M           `json:"advanced_filters,omitempty" bson:"advanced_filters,omitempty"`
	Enabled         bool               `json:"enabled" bson:"enabled"`
	IsPublished     bool               `json:"is_published" bson:"is_published"`
	CountAtOrigin   int64              `json:"count_at_origin" bson:"count_at_origin"`
	DataCount       int64              `json:"data_count" bson:"data_count"`
	SharedWith      []ShareGrant       `json:"shared_with,omitempty" bson:"shared_with,omitempty"`
	Communication   Communication      `json:"communication" bson:"communication"`

	CreatedBy     string    `json:"created_by,omitempty" bson:"created_by,omitempty"`
	CreatedByName string    `json:"created_by_name,omitempty" bson:"created_by_name,omitempty"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedBy     string    `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
	UpdatedByName string    `json:"updated_by_name,omitempty" bson:"updated_by_name,omitempty"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// Status derives the caller-facing status from the enabled flag.
func (s *Segment) Status() Status {
	if s.Enabled {
		return StatusActive
	}
	return StatusClosed
}

// ==========================================
// MEMBERSHIP
// ==========================================

// MemberRecord links one segment to one entity (segment_members collection).
// Display fields are denormalized at insertion time.
type MemberRecord struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SegmentID     primitive.ObjectID `json:"segment_id" bson:"segment_id"`
	StudentID     string             `json:"student_id" bson:"student_id"`
	ApplicationID string             `json:"application_id,omitempty" bson:"application_id,omitempty"`
	Name          string             `json:"name,omitempty" bson:"name,omitempty"`
	Email         string             `json:"email,omitempty" bson:"email,omitempty"`
	Mobile        string             `json:"mobile,omitempty" bson:"mobile,omitempty"`
	CustomAdded   bool               `json:"custom_added" bson:"custom_added"`
	AddedAt       time.Time          `json:"added_at" bson:"added_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// EntityID returns the id the duplicate check keys on: the application id for
// Application-module segments, else the student id.
func (m MemberRecord) EntityID() string {
	if m.ApplicationID != "" {
		return m.ApplicationID
	}
	return m.StudentID
}

// ==========================================
// LIST / QUERY PARAMETERS
// ==========================================

// ListParams drives the compiled listing pipeline. PageNum and PageSize must be
// both set (positive) or both zero; zero means return every match unpaginated.
type ListParams struct {
	SegmentIDs     []primitive.ObjectID
	CollegeID      string
	Search         string
	Status         Status
	ModuleNames    []Module
	SegmentType    Type
	CounselorIDs   []string
	SharedWithUser string
	PageNum        int64
	PageSize       int64
}

// Paginated reports whether the params request a page slice.
func (p ListParams) Paginated() bool {
	return p.PageNum > 0 && p.PageSize > 0
}

// AutomationRuleRef is the projection of an automation rule joined onto a
// segment row (rules referencing the segment by id).
type AutomationRuleRef struct {
	RuleID   primitive.ObjectID `json:"rule_id" bson:"_id"`
	Name     string             `json:"name" bson:"name"`
	DataType string             `json:"data_type" bson:"data_type"`
}

// EntityPreview is one row of a dynamic segment's capped live preview.
type EntityPreview struct {
	StudentID     string `json:"student_id"`
	ApplicationID string `json:"application_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Mobile        string `json:"mobile,omitempty"`
}

// Summary is the list-view shape: no raw filter payloads, resolved display
// names, live or cached counts, joined rule references.
type Summary struct {
	ID              primitive.ObjectID  `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	ModuleName      Module              `json:"module_name"`
	SegmentType     Type                `json:"segment_type"`
	Status          Status              `json:"status"`
	IsPublished     bool                `json:"is_published"`
	DataCount       int64               `json:"data_count"`
	CountAtOrigin   int64               `json:"count_at_origin"`
	StateNames      []string            `json:"state_names,omitempty"`
	CounselorNames  []string            `json:"counselor_names,omitempty"`
	CourseLabels    []string            `json:"course_labels,omitempty"`
	AutomationRules []AutomationRuleRef `json:"automation_rules,omitempty"`
	SharedWith      []ShareGrant        `json:"shared_with,omitempty"`
	Communication   CommunicationInfo   `json:"communication"`
	ShareLink       string              `json:"share_link,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Detail is the explicit-request shape: Summary plus the full filter
// specification, advanced filters, audit fields, and any live preview.
type Detail struct {
	Summary
	Filters         FilterSpec        `json:"filters"`
	Courses         []CourseSelection `json:"courses,omitempty"`
	AdvancedFilters []bson.M          `json:"advanced_filters,omitempty"`
	CreatedBy       string            `json:"created_by,omitempty"`
	CreatedByName   string            `json:"created_by_name,omitempty"`
	UpdatedBy       string            `json:"updated_by,omitempty"`
	UpdatedByName   string            `json:"updated_by_name,omitempty"`
	LivePreview     []EntityPreview   `json:"live_preview,omitempty"`
}

// ListResult is the outcome of compile-and-run: the total match count and the
// page (or full set) of enriched rows.
type ListResult struct {
	Total    int64     `json:"total_count"`
	Segments []Summary `json:"segments"`
}

// ==========================================
// COMMUNICATION STATISTICS
// ==========================================

// CommunicationInfo is the transient aggregated-statistic shape: summed
// counters plus derived rates. Rates are pointers so a zero-sent channel has
// the rate absent, not zero.
type CommunicationInfo struct {
	Email    ChannelStats `json:"email"`
	SMS      ChannelStats `json:"sms"`
	WhatsApp ChannelStats `json:"whatsapp"`
}

// ChannelStats is one channel's totals with optional derived rates.
type ChannelStats struct {
	Sent         int64    `json:"sent"`
	Opened       int64    `json:"opened"`
	Clicked      int64    `json:"clicked"`
	Delivered    int64    `json:"delivered"`
	OpenRate     *float64 `json:"open_rate,omitempty"`
	ClickRate    *float64 `json:"click_rate,omitempty"`
	DeliveryRate *float64 `json:"delivery_rate,omitempty"`
}

// SegmentPerformance is one row of the top-performing-segments rollup.
type SegmentPerformance struct {
	SegmentID primitive.ObjectID `json:"segment_id"`
	Name      string             `json:"name,omitempty"`
	Email     ChannelStats       `json:"email"`
	SMS       ChannelStats       `json:"sms"`
	WhatsApp  ChannelStats       `json:"whatsapp"`
}

// QuickViewCounts summarizes segment counts per module scope for dashboards.
type QuickViewCounts struct {
	Lead        int64 `json:"lead"`
	Application int64 `json:"application"`
	RawData     int64 `json:"raw_data"`
	Payment     int64 `json:"payment"`
	Total       int64 `json:"total"`
}
