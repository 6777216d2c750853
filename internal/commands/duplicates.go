package commands

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

// DuplicateShardSize is the shard size of the duplicate leads search.
const DuplicateShardSize = 1000

const (
	DuplicateLeadName    = "lead_name"
	DuplicateContactName = "contact_name"
	DuplicateEmail       = "email"
	DuplicatePhone       = "phone"
	DuplicateURL         = "url"
	DuplicateCustom      = "custom"
)

// DefaultDuplicateFields are the fields compared when none are given.
var DefaultDuplicateFields = []string{
	DuplicateLeadName, DuplicateContactName, DuplicateEmail, DuplicatePhone, DuplicateURL,
}

type DuplicateLeadsParams struct {
	Fields []string `validate:"omitempty,dive,oneof=lead_name contact_name email phone url custom"`
	// CustomField is the name of the lead custom field compared by the custom field.
	CustomField string
}

type DuplicateRow struct {
	Field       string `csv:"Duplicate Field" json:"field"`
	Value       string `csv:"Duplicate Value" json:"value"`
	LeadName    string `csv:"Lead Name" json:"lead_name"`
	StatusLabel string `csv:"Status Label" json:"status_label"`
	DateCreated string `csv:"Lead Date Created" json:"date_created"`
	LeadID      string `csv:"Lead ID" json:"lead_id"`
	CloseURL    string `csv:"Close URL" json:"close_url"`
}

// FindDuplicateLeads writes every group of two or more leads sharing a normalized lead name,
// contact name, email, phone, website host or custom field value. Groups are ordered by field
// then value, and the leads of a group from oldest to newest.
func FindDuplicateLeads(ctx context.Context, d *Deps, p DuplicateLeadsParams) (*Report[DuplicateRow], error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid find-duplicate-leads parameters: %w", err)
	}
	fields := p.Fields
	if len(fields) == 0 {
		fields = DefaultDuplicateFields
	}
	if slices.Contains(fields, DuplicateCustom) && p.CustomField == "" {
		return nil, fmt.Errorf("invalid find-duplicate-leads parameters: the custom field needs a custom field name")
	}
	log := d.Log.Named("find_duplicate_leads")

	o, err := d.Catalog.Organization(ctx)
	if err != nil {
		return nil, err
	}

	leadFields := []string{"id", "display_name", "contacts", "status_label", "date_created", "url"}
	customKey := ""
	if slices.Contains(fields, DuplicateCustom) {
		if customKey, err = leadCustomKey(ctx, d, p.CustomField); err != nil {
			return nil, err
		}
		leadFields = append(leadFields, customKey)
	}

	log.Info("getting leads", zap.Strings("fields", fields))
	leads, failed, err := fetchSharded(ctx, d.shardFetcher(DuplicateShardSize), log, "lead", url.Values{
		"query":   {"sort:created"},
		"_fields": {strings.Join(leadFields, ",")},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}
	transfer.SortByField(leads, "date_created", false)

	rep := &Report[DuplicateRow]{Failed: failed}
	for _, field := range fields {
		groups := groupLeads(leads, func(lead closeio.Record) []string {
			return duplicateKeys(lead, field, customKey)
		})
		keys := make([]string, 0, len(groups))
		for k, g := range groups {
			if len(g) > 1 {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)

		for _, k := range keys {
			for _, lead := range groups[k] {
				rep.Rows = append(rep.Rows, duplicateRow(field, k, lead))
			}
		}
		log.Info("duplicates found", zap.String("field", field), zap.Int("groups", len(keys)))
	}

	rep.File = d.outPath(report.SafeFileName(o.String("name")) + " Lead Duplicates.csv")
	if err := report.SaveRecords(rep.File, rep.Rows); err != nil {
		return nil, fmt.Errorf("save %s: %w", rep.File, err)
	}
	log.Info("report saved", zap.String("file", rep.File), zap.Int("rows", len(rep.Rows)), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

// leadCustomKey is the lead field holding the value of the named lead custom field.
func leadCustomKey(ctx context.Context, d *Deps, name string) (string, error) {
	fields, err := d.Fetcher().FetchAll(ctx, "custom_field/lead", nil)
	if err != nil {
		return "", fmt.Errorf("fetch lead custom fields: %w", err)
	}
	for _, f := range fields {
		if strings.EqualFold(f.String("name"), name) {
			return "custom." + f.ID(), nil
		}
	}
	return "", fmt.Errorf("lead custom field %q not found", name)
}

// groupLeads groups leads by every key they have. A lead is listed once per key even when
// several of its contacts share it.
func groupLeads(leads []closeio.Record, keysOf func(closeio.Record) []string) map[string][]closeio.Record {
	groups := map[string][]closeio.Record{}
	for _, lead := range leads {
		seen := map[string]bool{}
		for _, k := range keysOf(lead) {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			groups[k] = append(groups[k], lead)
		}
	}
	return groups
}

func duplicateKeys(lead closeio.Record, field, customKey string) []string {
	switch field {
	case DuplicateLeadName:
		return []string{normalizeText(lead.String("display_name"))}
	case DuplicateURL:
		return []string{normalizeHost(lead.String("url"))}
	case DuplicateCustom:
		v, ok := lead[customKey]
		if !ok || v == nil {
			return nil
		}
		return []string{normalizeText(fmt.Sprint(v))}
	}

	var keys []string
	for _, c := range lead.Records("contacts") {
		switch field {
		case DuplicateContactName:
			keys = append(keys, normalizeText(c.String("name")))
		case DuplicateEmail:
			for _, e := range c.Records("emails") {
				keys = append(keys, normalizeText(e.String("email")))
			}
		case DuplicatePhone:
			for _, ph := range c.Records("phones") {
				keys = append(keys, normalizePhone(ph.String("phone")))
			}
		}
	}
	return keys
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePhone keeps the digits of a phone number and its leading plus sign.
func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	if strings.HasPrefix(s, "+") {
		b.WriteByte('+')
	}
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.String() == "+" {
		return ""
	}
	return b.String()
}

// normalizeHost is the lowercased host of a website, with or without a scheme.
func normalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func duplicateRow(field, value string, lead closeio.Record) DuplicateRow {
	return DuplicateRow{
		Field:       field,
		Value:       value,
		LeadName:    lead.String("display_name"),
		StatusLabel: lead.String("status_label"),
		DateCreated: lead.String("date_created"),
		LeadID:      lead.ID(),
		CloseURL:    "https://app.close.com/lead/" + lead.ID() + "/",
	}
}
