// Package clone copies the configuration of one Close organization into another.
//
// Nothing is deleted in the destination. Objects are created in a fixed order so that each
// object's dependencies exist before it: statuses and pipelines, custom fields, roles and
// templates before the sequences and custom activities that reference them, smart views
// last because their queries reference everything else.
package clone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

// ErrDeclined is returned when the operator does not confirm the clone.
var ErrDeclined = errors.New("clone declined by operator")

type Part string

const (
	LeadStatuses            Part = "lead-statuses"
	OpportunityStatuses     Part = "opportunity-statuses"
	LeadCustomFields        Part = "lead-custom-fields"
	OpportunityCustomFields Part = "opportunity-custom-fields"
	ContactCustomFields     Part = "contact-custom-fields"
	IntegrationLinks        Part = "integration-links"
	Roles                   Part = "roles"
	EmailTemplates          Part = "email-templates"
	SMSTemplates            Part = "sms-templates"
	Sequences               Part = "sequences"
	CustomActivities        Part = "custom-activities"
	SmartViews              Part = "smart-views"
	Groups                  Part = "groups"
	GroupsWithMembers       Part = "groups-with-members"
	Webhooks                Part = "webhooks"
)

// Order is the creation order of a clone run.
var Order = []Part{
	LeadStatuses,
	OpportunityStatuses,
	LeadCustomFields,
	OpportunityCustomFields,
	ContactCustomFields,
	IntegrationLinks,
	Roles,
	EmailTemplates,
	SMSTemplates,
	Sequences,
	CustomActivities,
	SmartViews,
	Groups,
	GroupsWithMembers,
	Webhooks,
}

var aliases = map[string][]Part{
	"statuses":      {LeadStatuses, OpportunityStatuses},
	"custom-fields": {LeadCustomFields, OpportunityCustomFields, ContactCustomFields},
	"templates":     {EmailTemplates, SMSTemplates},
	// Webhooks and group members are never part of "all".
	"all": {
		LeadStatuses, OpportunityStatuses,
		LeadCustomFields, OpportunityCustomFields, ContactCustomFields,
		IntegrationLinks, Roles, EmailTemplates, SMSTemplates, Sequences,
		CustomActivities, SmartViews, Groups,
	},
}

// ParseParts resolves part names and the aliases statuses, custom-fields, templates and all.
func ParseParts(names ...string) ([]Part, error) {
	known := make(map[Part]bool, len(Order))
	for _, p := range Order {
		known[p] = true
	}

	var out []Part
	for _, name := range names {
		name = strings.TrimSpace(name)
		if parts, ok := aliases[name]; ok {
			out = append(out, parts...)
			continue
		}
		if !known[Part(name)] {
			return nil, fmt.Errorf("unknown part %q", name)
		}
		out = append(out, Part(name))
	}
	if len(out) == 0 {
		return nil, errors.New("nothing to clone")
	}
	return out, nil
}

// Cloner copies parts of the source organization to the destination organization.
type Cloner struct {
	from    *transfer.Catalog
	to      *transfer.Catalog
	writer  *transfer.Writer
	mapping *transfer.LazyMapping
	log     *zap.Logger
}

func New(from, to *transfer.Catalog, w *transfer.Writer, log *zap.Logger) *Cloner {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cloner{from: from, to: to, writer: w, log: log.Named("clone")}

	builder := transfer.NewBuilder(from, to, log)
	c.mapping = transfer.NewLazyMapping(func(ctx context.Context) (transfer.Mapping, error) {
		return builder.Build(ctx, transfer.AllKinds()...)
	})
	return c
}

func (c *Cloner) Summary() *transfer.Summary {
	return c.writer.Summary()
}

// Confirm describes the run on out and waits for a yes on in. It returns ErrDeclined for
// any other answer.
func (c *Cloner) Confirm(ctx context.Context, in io.Reader, out io.Writer) error {
	fromOrg, err := c.from.Organization(ctx)
	if err != nil {
		return fmt.Errorf("source organization: %w", err)
	}
	toOrg, err := c.to.Organization(ctx)
	if err != nil {
		return fmt.Errorf("destination organization: %w", err)
	}

	fmt.Fprintf(out, "Cloning `%s` (%s) organization to `%s` (%s)...\n",
		fromOrg.String("name"), fromOrg.ID(), toOrg.String("name"), toOrg.ID())
	fmt.Fprintln(out, "Data from source organization will be added to the destination organization. No data will be deleted.")
	fmt.Fprint(out, "\nContinue? (y/n)\n")

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return ErrDeclined
}

// Run clones the requested parts in creation order. Failing to read a list from either
// organization stops the run; a failing create is recorded and the run moves on.
func (c *Cloner) Run(ctx context.Context, parts ...Part) error {
	requested := make(map[Part]bool, len(parts))
	for _, p := range parts {
		requested[p] = true
	}
	// Members imply the groups themselves.
	if requested[GroupsWithMembers] {
		delete(requested, Groups)
	}

	for _, p := range Order {
		if !requested[p] {
			continue
		}
		c.log.Info("copying", zap.String("part", string(p)))
		if err := c.run(ctx, p); err != nil {
			return fmt.Errorf("clone %s: %w", p, err)
		}
	}
	return nil
}

func (c *Cloner) run(ctx context.Context, p Part) error {
	switch p {
	case LeadStatuses:
		return c.leadStatuses(ctx)
	case OpportunityStatuses:
		return c.opportunityStatuses(ctx)
	case LeadCustomFields:
		return c.customFields(ctx, "lead")
	case OpportunityCustomFields:
		return c.customFields(ctx, "opportunity")
	case ContactCustomFields:
		return c.customFields(ctx, "contact")
	case IntegrationLinks:
		return c.copyAll(ctx, "integration_link", "name", transfer.OriginFields...)
	case Roles:
		return c.roles(ctx)
	case EmailTemplates:
		return c.copyAll(ctx, "email_template", "name", transfer.OriginFields...)
	case SMSTemplates:
		return c.copyAll(ctx, "sms_template", "name", transfer.OriginFields...)
	case Sequences:
		return c.sequences(ctx)
	case CustomActivities:
		return c.customActivities(ctx)
	case SmartViews:
		return c.smartViews(ctx)
	case Groups:
		return c.groups(ctx, false)
	case GroupsWithMembers:
		return c.groups(ctx, true)
	case Webhooks:
		return c.copyAll(ctx, "webhook", "url", "id")
	}
	return fmt.Errorf("unknown part %q", p)
}

// create writes one object to the destination. ok is false when the create failed; err is
// only set when the writer aborts.
func (c *Cloner) create(ctx context.Context, key, path string, payload closeio.Record) (closeio.Record, bool, error) {
	o, err := c.writer.Write(ctx, transfer.Job{Key: key, Op: transfer.OpCreate, Path: path, Payload: payload})
	if err != nil {
		return nil, false, err
	}
	return o.Result, o.Status == transfer.StatusCreated, nil
}

func (c *Cloner) update(ctx context.Context, key, path string, payload closeio.Record) error {
	_, err := c.writer.Write(ctx, transfer.Job{Key: key, Op: transfer.OpUpdate, Path: path, Payload: payload})
	return err
}

func (c *Cloner) skip(key, reason string) {
	_ = c.writer.Record(transfer.Outcome{
		Job:    transfer.Job{Key: key, SkipReason: reason},
		Status: transfer.StatusSkipped,
	})
}

// copyAll creates every object of a collection as is, minus the stripped fields.
func (c *Cloner) copyAll(ctx context.Context, collection, keyField string, strip ...string) error {
	items, err := c.from.All(ctx, collection)
	if err != nil {
		return err
	}
	for _, item := range items {
		key := fmt.Sprintf("%s `%s`", collection, item.String(keyField))
		if _, _, err := c.create(ctx, key, collection, transfer.Strip(item, strip...)); err != nil {
			return err
		}
	}
	return nil
}

func findBy(records []closeio.Record, field, value string) closeio.Record {
	for _, r := range records {
		if r.String(field) == value {
			return r
		}
	}
	return nil
}

func fieldsParam(fields ...string) url.Values {
	return url.Values{"_fields": {strings.Join(fields, ",")}}
}
