package segment

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ==========================================
// COMMUNICATION TOTALS
// ==========================================

// communicationPipeline projects per-channel counters (missing counters
// default to zero) and reduces them globally, optionally restricted to one
// segment and/or a status.
func communicationPipeline(segmentID *primitive.ObjectID, status Status) mongo.Pipeline {
	p := mongo.Pipeline{}

	match := bson.D{}
	if segmentID != nil {
		match = append(match, bson.E{Key: "_id", Value: *segmentID})
	}
	if status != "" {
		match = append(match, bson.E{Key: "enabled", Value: status == StatusActive})
	}
	if len(match) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: match}})
	}

	group := bson.D{{Key: "_id", Value: nil}}
	for _, ch := range []string{"email", "sms", "whatsapp"} {
		for _, c := range []string{"sent", "opened", "clicked", "delivered"} {
			group = append(group, bson.E{
				Key: ch + "_" + c,
				Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$ifNull", Value: bson.A{
					fmt.Sprintf("$communication.%s.%s", ch, c), 0,
				}}}}},
			})
		}
	}
	p = append(p, bson.D{{Key: "$group", Value: group}})
	return p
}

// commTotalsRow is the flat grouping result of communicationPipeline.
type commTotalsRow struct {
	EmailSent         int64 `bson:"email_sent"`
	EmailOpened       int64 `bson:"email_opened"`
	EmailClicked      int64 `bson:"email_clicked"`
	EmailDelivered    int64 `bson:"email_delivered"`
	SMSSent           int64 `bson:"sms_sent"`
	SMSOpened         int64 `bson:"sms_opened"`
	SMSClicked        int64 `bson:"sms_clicked"`
	SMSDelivered      int64 `bson:"sms_delivered"`
	WhatsAppSent      int64 `bson:"whatsapp_sent"`
	WhatsAppOpened    int64 `bson:"whatsapp_opened"`
	WhatsAppClicked   int64 `bson:"whatsapp_clicked"`
	WhatsAppDelivered int64 `bson:"whatsapp_delivered"`
}

func (r commTotalsRow) info() CommunicationInfo {
	return CommunicationInfo{
		Email:    withRates(ChannelCounters{Sent: r.EmailSent, Opened: r.EmailOpened, Clicked: r.EmailClicked, Delivered: r.EmailDelivered}),
		SMS:      withRates(ChannelCounters{Sent: r.SMSSent, Opened: r.SMSOpened, Clicked: r.SMSClicked, Delivered: r.SMSDelivered}),
		WhatsApp: withRates(ChannelCounters{Sent: r.WhatsAppSent, Opened: r.WhatsAppOpened, Clicked: r.WhatsAppClicked, Delivered: r.WhatsAppDelivered}),
	}
}

// CommunicationInfo sums message counters for one segment or a status-filtered
// set of segments. No matching documents yields all-zero counts, not an error.
func (s *Store) CommunicationInfo(ctx context.Context, segmentID string, status Status) (CommunicationInfo, error) {
	var oid *primitive.ObjectID
	if segmentID != "" {
		parsed, err := ParseID(segmentID)
		if err != nil {
			return CommunicationInfo{}, err
		}
		oid = &parsed
	}

	cur, err := s.segments().Aggregate(ctx, communicationPipeline(oid, status))
	if err != nil {
		return CommunicationInfo{}, fmt.Errorf("communication aggregation: %w", err)
	}
	defer cur.Close(ctx)

	var rows []commTotalsRow
	if err := cur.All(ctx, &rows); err != nil {
		return CommunicationInfo{}, fmt.Errorf("decode communication totals: %w", err)
	}
	if len(rows) == 0 {
		return commTotalsRow{}.info(), nil
	}
	return rows[0].info(), nil
}

// ==========================================
// TOP PERFORMING SEGMENTS
// ==========================================

// ActivityRecord is one automation-activity event-type record: per-channel
// message counters attributed to a segment.
type ActivityRecord struct {
	SegmentID   primitive.ObjectID `bson:"segment_id"`
	SegmentName string             `bson:"segment_name"`
	Channel     string             `bson:"channel"` // email | sms | whatsapp
	Sent        int64              `bson:"sent"`
	Opened      int64              `bson:"opened"`
	Clicked     int64              `bson:"clicked"`
	Delivered   int64              `bson:"delivered"`
}

// accumulatePerformance folds activity records into per-segment rollups.
// Email accumulates sent/opened/clicked; sms and whatsapp accumulate
// sent/delivered. Rates appear only for channels with a positive sent count.
func accumulatePerformance(records []ActivityRecord) []SegmentPerformance {
	type acc struct {
		name     string
		email    ChannelCounters
		sms      ChannelCounters
		whatsapp ChannelCounters
	}
	bySegment := make(map[primitive.ObjectID]*acc)
	order := []primitive.ObjectID{}

	for _, r := range records {
		a, ok := bySegment[r.SegmentID]
		if !ok {
			a = &acc{name: r.SegmentName}
			bySegment[r.SegmentID] = a
			order = append(order, r.SegmentID)
		}
		if a.name == "" {
			a.name = r.SegmentName
		}
		switch r.Channel {
		case "email":
			a.email.Sent += r.Sent
			a.email.Opened += r.Opened
			a.email.Clicked += r.Clicked
		case "sms":
			a.sms.Sent += r.Sent
			a.sms.Delivered += r.Delivered
		case "whatsapp":
			a.whatsapp.Sent += r.Sent
			a.whatsapp.Delivered += r.Delivered
		}
	}

	out := make([]SegmentPerformance, 0, len(order))
	for _, id := range order {
		a := bySegment[id]
		out = append(out, SegmentPerformance{
			SegmentID: id,
			Name:      a.name,
			Email:     withRates(a.email),
			SMS:       withRates(a.sms),
			WhatsApp:  withRates(a.whatsapp),
		})
	}

	// Highest email open rate first; rate-less segments sink to the bottom.
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Email.OpenRate, out[j].Email.OpenRate
		if ri == nil {
			return false
		}
		if rj == nil {
			return true
		}
		return *ri > *rj
	})
	return out
}

// TopPerformingSegments rolls up every automation-activity record into
// per-segment communication performance. The scan is deliberately unbounded:
// callers filter client-side.
func (s *Store) TopPerformingSegments(ctx context.Context) ([]SegmentPerformance, error) {
	cur, err := s.db.Collection(CollAutomationActivities).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load automation activities: %w", err)
	}
	defer cur.Close(ctx)

	var records []ActivityRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode automation activities: %w", err)
	}
	return accumulatePerformance(records), nil
}

// ==========================================
// QUICK VIEW COUNTS
// ==========================================

// quickViewPipeline groups matching segments by module scope.
func quickViewPipeline(status Status, counselorIDs []string) mongo.Pipeline {
	p := mongo.Pipeline{}

	match := bson.D{}
	if status != "" {
		match = append(match, bson.E{Key: "enabled", Value: status == StatusActive})
	}
	if len(counselorIDs) > 0 {
		match = append(match, bson.E{Key: "filters.counselor_id", Value: bson.D{{Key: "$in", Value: counselorIDs}}})
	}
	if len(match) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: match}})
	}

	p = append(p, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$module_name"},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
	}}})
	return p
}

// QuickViewCounts returns per-module segment counts for dashboard tiles.
func (s *Store) QuickViewCounts(ctx context.Context, status Status, counselorIDs []string) (QuickViewCounts, error) {
	cur, err := s.segments().Aggregate(ctx, quickViewPipeline(status, counselorIDs))
	if err != nil {
		return QuickViewCounts{}, fmt.Errorf("quick view aggregation: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Module Module `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return QuickViewCounts{}, fmt.Errorf("decode quick view counts: %w", err)
	}

	var counts QuickViewCounts
	for _, r := range rows {
		switch r.Module {
		case ModuleLead:
			counts.Lead = r.Count
		case ModuleApplication:
			counts.Application = r.Count
		case ModuleRawData:
			counts.RawData = r.Count
		case ModulePayment:
			counts.Payment = r.Count
		}
		counts.Total += r.Count
	}
	return counts, nil
}
