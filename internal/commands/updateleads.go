package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

const (
	customColumnPrefix = "custom."
	// MultiValueSeparator splits a cell into the values of a multiple choice field.
	MultiValueSeparator = ";"
)

var (
	// ErrMissingKeyColumn is returned for a CSV with neither a company nor a lead_id column.
	ErrMissingKeyColumn = errors.New(`column "company" or "lead_id" is not found`)

	contactNameRe = regexp.MustCompile(`^contact(\d+)_name$`)
)

type UpdateLeadsParams struct {
	File string `validate:"required"`
	// CreateCustomFields adds custom.<name> columns the organization has no lead field for.
	CreateCustomFields bool
	// DisableCreate only updates existing leads.
	DisableCreate bool
}

type UpdateResult struct {
	Errors []report.ErrorRow
	// ErrorFile holds the failed rows with an error column. Empty when no row failed.
	ErrorFile string
}

type leadField struct {
	multiple bool
}

type leadUpdater struct {
	d      *Deps
	header []string
	fields map[string]leadField
	log    *zap.Logger
}

// UpdateLeads updates or creates one lead per CSV row. Rows are matched by lead_id, or by
// company to the oldest lead of that name. Multiple choice custom fields get the row's
// values appended to the lead's current ones.
//
// A failed row is recorded and the run goes on unless the writer aborts on the first error.
// The failed rows are written to a CSV next to the input in both cases.
func UpdateLeads(ctx context.Context, d *Deps, p UpdateLeadsParams) (*UpdateResult, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid update-leads parameters: %w", err)
	}
	table, err := report.ReadTableFile(p.File)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.File, err)
	}
	if !slices.Contains(table.Header, "company") && !slices.Contains(table.Header, "lead_id") {
		return nil, ErrMissingKeyColumn
	}

	u := &leadUpdater{d: d, header: table.Header, log: d.Log.Named("update_leads")}
	if err := u.loadFields(ctx, p.CreateCustomFields); err != nil {
		return nil, err
	}

	res := &UpdateResult{}
	var runErr error
	for _, row := range table.Rows {
		msg, err := u.updateRow(ctx, row, p.DisableCreate)
		if msg != "" {
			res.Errors = append(res.Errors, report.ErrorRow{Row: row, Error: msg})
		}
		if err != nil {
			runErr = err
			break
		}
	}

	if len(res.Errors) > 0 {
		res.ErrorFile = errorFileName(p.File)
		if err := report.SaveErrorRows(res.ErrorFile, table.Header, res.Errors); err != nil {
			return res, errors.Join(runErr, fmt.Errorf("save %s: %w", res.ErrorFile, err))
		}
		u.log.Info("errored rows saved", zap.String("file", res.ErrorFile), zap.Int("rows", len(res.Errors)))
	}
	return res, runErr
}

func errorFileName(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + " - errors.csv"
}

// loadFields reads the lead custom fields and optionally creates the missing ones as text
// fields.
func (u *leadUpdater) loadFields(ctx context.Context, create bool) error {
	existing, err := u.d.Fetcher().FetchAll(ctx, "custom_field/lead", nil)
	if err != nil {
		return fmt.Errorf("fetch lead custom fields: %w", err)
	}
	u.fields = make(map[string]leadField, len(existing))
	for _, f := range existing {
		u.fields[f.String("name")] = leadField{multiple: f.Bool("accepts_multiple_values")}
	}

	for _, col := range u.header {
		name, ok := strings.CutPrefix(col, customColumnPrefix)
		if !ok {
			continue
		}
		if _, ok := u.fields[name]; ok {
			continue
		}
		if !create {
			u.log.Warn("no lead custom field for column, ignored", zap.String("column", col))
			continue
		}
		o, err := u.d.Writer.Write(ctx, transfer.Job{
			Key:     "custom field " + name,
			Op:      transfer.OpCreate,
			Path:    "custom_field/lead",
			Payload: closeio.Record{"name": name, "type": "text"},
		})
		if err != nil {
			return err
		}
		if o.Status == transfer.StatusCreated {
			u.fields[name] = leadField{}
		}
	}
	return nil
}

// updateRow returns the error message recorded for the row, and an error when the writer
// aborts.
func (u *leadUpdater) updateRow(ctx context.Context, row report.Row, disableCreate bool) (string, error) {
	key := "line " + strconv.Itoa(row.Line)
	fail := func(err error) (string, error) {
		o := transfer.Outcome{Job: transfer.Job{Key: key, Input: row}, Status: transfer.StatusErrored, Err: err}
		return o.Message(), u.d.Writer.Record(o)
	}

	company, leadID := row.Get("company"), row.Get("lead_id")
	if company == "" && leadID == "" {
		return fail(errors.New("company or lead_id is required"))
	}
	if v := row.Get("url"); v != "" {
		if err := validate.Var(v, "url"); err != nil {
			return fail(fmt.Errorf("invalid url %q", v))
		}
	}

	payload := u.payload(row)
	lead, err := u.findLead(ctx, company, leadID)
	if err != nil {
		return fail(err)
	}

	var job transfer.Job
	switch {
	case lead != nil:
		if custom := payload.Map("custom"); custom != nil {
			payload["custom"] = transfer.MergeMultiValues(custom, lead.Map("custom"), u.multiFields(custom))
		}
		job = transfer.Job{Key: key, Op: transfer.OpUpdate, Path: "lead/" + lead.ID(), Payload: payload, Input: row}
	case disableCreate:
		job = transfer.Job{Key: key, Input: row, SkipReason: "no lead found and creation is disabled"}
	default:
		job = transfer.Job{Key: key, Op: transfer.OpCreate, Path: "lead", Payload: payload, Input: row}
	}

	o, err := u.d.Writer.Write(ctx, job)
	if o.Status == transfer.StatusErrored {
		return o.Message(), err
	}
	return "", err
}

func (u *leadUpdater) findLead(ctx context.Context, company, leadID string) (closeio.Record, error) {
	if leadID != "" {
		lead, err := u.d.Source.Get(ctx, "lead/"+leadID, url.Values{"_fields": {"id,name,custom"}})
		if err != nil {
			return nil, fmt.Errorf("get lead %s: %w", leadID, err)
		}
		return lead, nil
	}

	page, err := u.d.Source.List(ctx, "lead", url.Values{
		"query":   {companyQuery(company) + " sort:created"},
		"_fields": {"id,display_name,name,contacts,custom"},
		"_limit":  {"1"},
	})
	if err != nil {
		return nil, fmt.Errorf("search lead %q: %w", company, err)
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return page.Data[0], nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// companyQuery is the search term matching leads by company name. Quotes and backslashes in
// the name are escaped so the name stays one quoted value.
func companyQuery(name string) string {
	return `company:"` + queryEscaper.Replace(name) + `"`
}

func (u *leadUpdater) multiFields(custom closeio.Record) []string {
	var out []string
	for name := range custom {
		if u.fields[name].multiple {
			out = append(out, name)
		}
	}
	return out
}

func (u *leadUpdater) payload(row report.Row) closeio.Record {
	payload := closeio.Record{}
	if v := row.Get("company"); v != "" {
		payload["name"] = v
	}
	if v := row.Get("url"); v != "" {
		payload["url"] = v
	}

	var contacts []any
	custom := closeio.Record{}
	for _, col := range u.header {
		if m := contactNameRe.FindStringSubmatch(col); m != nil && row.Get(col) != "" {
			contacts = append(contacts, u.contact(row, m[1]))
			continue
		}
		name, ok := strings.CutPrefix(col, customColumnPrefix)
		if !ok || row.Get(col) == "" {
			continue
		}
		f, known := u.fields[name]
		if !known {
			continue
		}
		if f.multiple {
			custom[name] = splitValues(row.Get(col))
		} else {
			custom[name] = row.Get(col)
		}
	}
	if len(contacts) > 0 {
		payload["contacts"] = contacts
	}
	if len(custom) > 0 {
		payload["custom"] = custom
	}
	return payload
}

func (u *leadUpdater) contact(row report.Row, n string) closeio.Record {
	prefix := "contact" + n + "_"
	c := closeio.Record{"name": row.Get(prefix + "name")}
	if v := row.Get(prefix + "title"); v != "" {
		c["title"] = v
	}
	if phones := u.contactInfo(row, prefix+"phone", "phone", "office"); len(phones) > 0 {
		c["phones"] = phones
	}
	if emails := u.contactInfo(row, prefix+"email", "email", "office"); len(emails) > 0 {
		c["emails"] = emails
	}
	if urls := u.contactInfo(row, prefix+"url", "url", "url"); len(urls) > 0 {
		c["urls"] = urls
	}
	return c
}

// contactInfo collects the numbered columns <prefix>1, <prefix>2, ... in header order.
func (u *leadUpdater) contactInfo(row report.Row, prefix, key, typ string) []any {
	var out []any
	for _, col := range u.header {
		rest, ok := strings.CutPrefix(col, prefix)
		if !ok || rest == "" || row.Get(col) == "" {
			continue
		}
		if _, err := strconv.Atoi(rest); err != nil {
			continue
		}
		out = append(out, closeio.Record{key: row.Get(col), "type": typ})
	}
	return out
}

func splitValues(cell string) []any {
	var out []any
	for _, v := range strings.Split(cell, MultiValueSeparator) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
