package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

var callFields = []string{
	"id", "user_id", "duration", "disposition", "status", "direction", "date_created", "remote_phone",
	"local_phone", "voicemail_url", "recording_url", "source", "lead_id", "updated_by_name", "contact_id",
}

type ExportCallsParams struct {
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	UserID    string
	Direction string `validate:"omitempty,oneof=inbound outbound"`
	// MissedOrVoicemail keeps only calls with a zero duration.
	MissedOrVoicemail bool
	PhoneNumber       string `validate:"omitempty,e164"`
	CallCosts         bool
	Transcripts       bool
}

type CallRow struct {
	ID                  string  `csv:"id" json:"id"`
	UserID              string  `csv:"user_id" json:"user_id"`
	Duration            float64 `csv:"duration" json:"duration"`
	Disposition         string  `csv:"disposition" json:"disposition"`
	Status              string  `csv:"status" json:"status"`
	Direction           string  `csv:"direction" json:"direction"`
	DateCreated         string  `csv:"date_created" json:"date_created"`
	RemotePhone         string  `csv:"remote_phone" json:"remote_phone"`
	LocalPhone          string  `csv:"local_phone" json:"local_phone"`
	VoicemailURL        string  `csv:"voicemail_url" json:"voicemail_url"`
	RecordingURL        string  `csv:"recording_url" json:"recording_url"`
	Source              string  `csv:"source" json:"source"`
	LeadID              string  `csv:"lead_id" json:"lead_id"`
	UpdatedByName       string  `csv:"updated_by_name" json:"updated_by_name"`
	ContactID           string  `csv:"contact_id" json:"contact_id"`
	LeadName            string  `csv:"lead_name" json:"lead_name"`
	ContactName         string  `csv:"contact_name" json:"contact_name"`
	Cost                string  `csv:"cost" json:"cost,omitempty"`
	FormattedCost       string  `csv:"formatted_cost" json:"formatted_cost,omitempty"`
	RecordingTranscript string  `csv:"recording_transcript" json:"recording_transcript,omitempty"`
}

// callsLeadQuery selects the leads that can own the exported calls.
func callsLeadQuery(p ExportCallsParams) string {
	if p.StartDate == "" && p.EndDate == "" {
		return "has:calls"
	}
	q := "call("
	if p.StartDate != "" {
		q += fmt.Sprintf(` date >= "%s"`, p.StartDate)
	}
	if p.EndDate != "" {
		q += fmt.Sprintf(` date < "%s"`, p.EndDate)
	}
	return q + ")"
}

func callsParams(p ExportCallsParams) url.Values {
	params := url.Values{}
	if p.StartDate != "" {
		params.Set("date_created__gte", p.StartDate)
	}
	if p.EndDate != "" {
		params.Set("date_created__lt", p.EndDate)
	}
	if p.UserID != "" {
		params.Set("user_id", p.UserID)
	}

	fields := append([]string(nil), callFields...)
	if p.CallCosts {
		fields = append(fields, "cost")
	}
	if p.Transcripts {
		fields = append(fields, "recording_transcript")
	}
	params.Set("_fields", strings.Join(fields, ","))
	return params
}

// ExportCalls writes the calls of the organization, most recent first, joined with their lead
// and contact names. A failed lead shard only leaves the names of its leads empty.
func ExportCalls(ctx context.Context, d *Deps, p ExportCallsParams) (*Report[CallRow], error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid export-calls parameters: %w", err)
	}
	log := d.Log.Named("export_calls")

	o, err := d.Catalog.Organization(ctx)
	if err != nil {
		return nil, err
	}

	query := callsLeadQuery(p)
	log.Info("getting leads", zap.String("query", query))
	leads, failed, err := fetchSharded(ctx, d.Fetcher(), log, "lead", url.Values{
		"query":   {query},
		"_fields": {"id,contacts,display_name"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}

	leadNames := map[string]string{}
	contactNames := map[string]string{}
	for _, lead := range leads {
		leadNames[lead.ID()] = lead.String("display_name")
		for _, c := range lead.Records("contacts") {
			contactNames[c.ID()] = c.String("name")
		}
	}

	log.Info("getting calls")
	calls, err := d.Fetcher().FetchAll(ctx, "activity/call", callsParams(p))
	if err != nil {
		return nil, fmt.Errorf("fetch calls: %w", err)
	}
	transfer.SortByField(calls, "date_created", true)

	rep := &Report[CallRow]{Rows: make([]CallRow, 0, len(calls)), Failed: failed}
	for _, call := range calls {
		if !keepCall(call, p) {
			continue
		}
		rep.Rows = append(rep.Rows, callRow(call, leadNames, contactNames))
	}

	rep.File = d.outPath(report.SafeFileName(o.String("name")) + " Calls.csv")
	if err := report.SaveRecords(rep.File, rep.Rows); err != nil {
		return nil, fmt.Errorf("save %s: %w", rep.File, err)
	}
	log.Info("report saved", zap.String("file", rep.File), zap.Int("calls", len(rep.Rows)), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

func keepCall(call closeio.Record, p ExportCallsParams) bool {
	if p.MissedOrVoicemail {
		if d, _ := call["duration"].(float64); d != 0 {
			return false
		}
	}
	if p.Direction != "" && call.String("direction") != p.Direction {
		return false
	}
	if p.PhoneNumber != "" && call.String("local_phone") != p.PhoneNumber {
		return false
	}
	return true
}

func callRow(call closeio.Record, leadNames, contactNames map[string]string) CallRow {
	duration, _ := call["duration"].(float64)
	row := CallRow{
		ID:            call.ID(),
		UserID:        call.String("user_id"),
		Duration:      duration,
		Disposition:   call.String("disposition"),
		Status:        call.String("status"),
		Direction:     call.String("direction"),
		DateCreated:   call.String("date_created"),
		RemotePhone:   call.String("remote_phone"),
		LocalPhone:    call.String("local_phone"),
		VoicemailURL:  call.String("voicemail_url"),
		RecordingURL:  call.String("recording_url"),
		Source:        call.String("source"),
		LeadID:        call.String("lead_id"),
		UpdatedByName: call.String("updated_by_name"),
		ContactID:     call.String("contact_id"),
		LeadName:      leadNames[call.String("lead_id")],
		ContactName:   contactNames[call.String("contact_id")],
	}
	if cost, ok := call["cost"].(float64); ok && cost != 0 {
		row.Cost = fmt.Sprint(cost)
		row.FormattedCost = transfer.FormatCents(cost)
	}
	if t := call.Map("recording_transcript"); t != nil {
		row.RecordingTranscript = t.String("summary_text")
	}
	return row
}
