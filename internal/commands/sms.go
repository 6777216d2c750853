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

var smsFields = []string{
	"id", "direction", "local_phone", "remote_phone", "lead_id", "contact_id", "user_id",
	"user_name", "date_created", "text", "status", "cost", "source",
}

type ExportSMSParams struct {
	StartDate string `validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `validate:"omitempty,datetime=2006-01-02"`
	UserID    string
	Direction string `validate:"omitempty,oneof=inbound outbound"`
	Status    string `validate:"omitempty,oneof=error inbox draft scheduled outbox sent"`
	// SmartView restricts the leads to the ones in the named smart view.
	SmartView string
}

type SMSRow struct {
	ID            string `csv:"id" json:"id"`
	Direction     string `csv:"direction" json:"direction"`
	LocalPhone    string `csv:"local_phone" json:"local_phone"`
	RemotePhone   string `csv:"remote_phone" json:"remote_phone"`
	LeadID        string `csv:"lead_id" json:"lead_id"`
	ContactID     string `csv:"contact_id" json:"contact_id"`
	UserID        string `csv:"user_id" json:"user_id"`
	UserName      string `csv:"user_name" json:"user_name"`
	DateCreated   string `csv:"date_created" json:"date_created"`
	Text          string `csv:"text" json:"text"`
	Status        string `csv:"status" json:"status"`
	Cost          string `csv:"cost" json:"cost,omitempty"`
	Source        string `csv:"source" json:"source"`
	LeadName      string `csv:"lead_name" json:"lead_name"`
	FormattedCost string `csv:"formatted_cost" json:"formatted_cost,omitempty"`
}

// smsLeadQuery selects the leads holding the exported messages.
func smsLeadQuery(p ExportSMSParams) string {
	var terms []string
	if p.StartDate != "" {
		terms = append(terms, fmt.Sprintf(`date >= "%s"`, p.StartDate))
	}
	if p.EndDate != "" {
		terms = append(terms, fmt.Sprintf(`date < "%s"`, p.EndDate))
	}
	if p.Status != "" {
		terms = append(terms, "status:"+p.Status)
	}
	if p.Direction != "" {
		terms = append(terms, "direction:"+p.Direction)
	}
	if p.UserID != "" {
		terms = append(terms, "user:"+p.UserID)
	}

	q := "sms_messages > 0"
	if len(terms) > 0 {
		q = "sms(" + strings.Join(terms, " ") + ")"
	}
	if p.SmartView != "" {
		q += fmt.Sprintf(` in:"%s"`, queryEscaper.Replace(p.SmartView))
	}
	return q
}

func smsParams(p ExportSMSParams, leadID string) url.Values {
	params := url.Values{
		"lead_id": {leadID},
		"_fields": {strings.Join(smsFields, ",")},
	}
	if p.UserID != "" {
		params.Set("user_id", p.UserID)
	}
	if p.StartDate != "" {
		params.Set("date_created__gte", p.StartDate)
	}
	if p.EndDate != "" {
		params.Set("date_created__lt", p.EndDate)
	}
	return params
}

// ExportSMS writes the SMS messages of the matching leads, most recent first. Leads come from
// a sharded search and their messages are read on the worker pool; a failing shard or lead is
// left out of the report and listed in its Failed errors.
func ExportSMS(ctx context.Context, d *Deps, p ExportSMSParams) (*Report[SMSRow], error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid export-sms parameters: %w", err)
	}
	log := d.Log.Named("export_sms")

	o, err := d.Catalog.Organization(ctx)
	if err != nil {
		return nil, err
	}

	query := smsLeadQuery(p)
	log.Info("getting leads", zap.String("query", query))
	leads, failed, err := fetchSharded(ctx, d.Fetcher(), log, "lead", url.Values{
		"query":   {query},
		"_fields": {"id,display_name"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}
	leadNames := make(map[string]string, len(leads))
	for _, lead := range leads {
		leadNames[lead.ID()] = lead.String("display_name")
	}

	log.Info("getting sms messages", zap.Int("leads", len(leads)))
	messages, leadFailures, err := perLead(ctx, d, log, leads, func(ctx context.Context, lead closeio.Record) ([]closeio.Record, error) {
		return d.Fetcher().FetchAll(ctx, "activity/sms", smsParams(p, lead.ID()))
	})
	if err != nil {
		return nil, fmt.Errorf("fetch sms messages: %w", err)
	}
	transfer.SortByField(messages, "date_created", true)

	rep := &Report[SMSRow]{Rows: make([]SMSRow, 0, len(messages)), Failed: append(failed, leadFailures...)}
	for _, m := range messages {
		if p.Direction != "" && m.String("direction") != p.Direction {
			continue
		}
		if p.Status != "" && m.String("status") != p.Status {
			continue
		}
		rep.Rows = append(rep.Rows, smsRow(m, leadNames))
	}

	rep.File = d.outPath(report.SafeFileName(o.String("name")) + " SMS messages.csv")
	if err := report.SaveRecords(rep.File, rep.Rows); err != nil {
		return nil, fmt.Errorf("save %s: %w", rep.File, err)
	}
	log.Info("report saved", zap.String("file", rep.File), zap.Int("messages", len(rep.Rows)), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

func smsRow(m closeio.Record, leadNames map[string]string) SMSRow {
	row := SMSRow{
		ID:          m.ID(),
		Direction:   m.String("direction"),
		LocalPhone:  m.String("local_phone"),
		RemotePhone: m.String("remote_phone"),
		LeadID:      m.String("lead_id"),
		ContactID:   m.String("contact_id"),
		UserID:      m.String("user_id"),
		UserName:    m.String("user_name"),
		DateCreated: m.String("date_created"),
		Text:        m.String("text"),
		Status:      m.String("status"),
		Source:      m.String("source"),
		LeadName:    leadNames[m.String("lead_id")],
	}
	if cost, ok := m["cost"].(float64); ok && cost != 0 {
		row.Cost = fmt.Sprint(cost)
		row.FormattedCost = transfer.FormatCents(cost)
	}
	return row
}
