package transfer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/ellogroup/ello-golang-closeio/closeio"
)

// BuiltInSchemas are the custom field schemas every organization has.
var BuiltInSchemas = []string{"lead", "contact", "opportunity"}

// Catalog reads the configuration objects of one organization.
type Catalog struct {
	src   Source
	fetch *Fetcher

	mu    sync.Mutex
	orgID string
}

var _ ObjectSource = (*Catalog)(nil)

func NewCatalog(src Source, fetch *Fetcher) *Catalog {
	if fetch == nil {
		fetch = NewFetcher(src)
	}
	return &Catalog{src: src, fetch: fetch}
}

func (c *Catalog) Source() Source {
	return c.src
}

func (c *Catalog) Fetcher() *Fetcher {
	return c.fetch
}

// Organization returns the first organization of the API key's user.
func (c *Catalog) Organization(ctx context.Context) (closeio.Record, error) {
	me, err := c.src.Get(ctx, "me", nil)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	orgs := me.Records("organizations")
	if len(orgs) == 0 {
		return nil, fmt.Errorf("api key user belongs to no organization")
	}
	return orgs[0], nil
}

func (c *Catalog) OrganizationID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orgID != "" {
		return c.orgID, nil
	}

	org, err := c.Organization(ctx)
	if err != nil {
		return "", err
	}
	c.orgID = org.ID()
	return c.orgID, nil
}

// OrganizationFields reads selected fields of the organization object.
func (c *Catalog) OrganizationFields(ctx context.Context, fields ...string) (closeio.Record, error) {
	id, err := c.OrganizationID(ctx)
	if err != nil {
		return nil, err
	}
	org, err := c.src.Get(ctx, "organization/"+id, url.Values{"_fields": {strings.Join(fields, ",")}})
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	return org, nil
}

func (c *Catalog) LeadStatuses(ctx context.Context) ([]closeio.Record, error) {
	org, err := c.OrganizationFields(ctx, "lead_statuses")
	if err != nil {
		return nil, err
	}
	return org.Records("lead_statuses"), nil
}

func (c *Catalog) Pipelines(ctx context.Context) ([]closeio.Record, error) {
	org, err := c.OrganizationFields(ctx, "pipelines")
	if err != nil {
		return nil, err
	}
	return org.Records("pipelines"), nil
}

// OpportunityStatuses flattens the statuses of every pipeline.
func (c *Catalog) OpportunityStatuses(ctx context.Context) ([]closeio.Record, error) {
	pipelines, err := c.Pipelines(ctx)
	if err != nil {
		return nil, err
	}
	var out []closeio.Record
	for _, p := range pipelines {
		out = append(out, p.Records("statuses")...)
	}
	return out, nil
}

// CustomFieldSchema returns the fields of one schema: lead, contact, opportunity or
// activity/<custom activity type id>.
func (c *Catalog) CustomFieldSchema(ctx context.Context, schema string) ([]closeio.Record, error) {
	resp, err := c.src.Get(ctx, "custom_field_schema/"+schema, nil)
	if err != nil {
		return nil, fmt.Errorf("get custom field schema %s: %w", schema, err)
	}
	return resp.Records("fields"), nil
}

func (c *Catalog) CustomActivityTypes(ctx context.Context) ([]closeio.Record, error) {
	return c.fetch.FetchAll(ctx, "custom_activity", nil)
}

// CustomFields returns the fields of the built-in schemas and of every custom activity type,
// each annotated with the `object_type` it belongs to (the schema name, or the activity type id).
func (c *Catalog) CustomFields(ctx context.Context) ([]closeio.Record, error) {
	types, err := c.CustomActivityTypes(ctx)
	if err != nil {
		return nil, err
	}

	schemas := append([]string(nil), BuiltInSchemas...)
	for _, t := range types {
		schemas = append(schemas, t.ID())
	}

	var out []closeio.Record
	for _, schema := range schemas {
		path := schema
		if strings.HasPrefix(schema, "actitype_") {
			path = "activity/" + schema
		}
		fields, err := c.CustomFieldSchema(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			f = f.Clone()
			f["object_type"] = schema
			out = append(out, f)
		}
	}
	return out, nil
}

func (c *Catalog) All(ctx context.Context, collection string) ([]closeio.Record, error) {
	return c.fetch.FetchAll(ctx, collection, nil)
}

// Objects implements [ObjectSource].
func (c *Catalog) Objects(ctx context.Context, kind ObjectKind) ([]closeio.Record, error) {
	switch kind {
	case KindCustomActivityType:
		return c.CustomActivityTypes(ctx)
	case KindCustomField:
		return c.CustomFields(ctx)
	case KindStatus:
		leads, err := c.LeadStatuses(ctx)
		if err != nil {
			return nil, err
		}
		opps, err := c.OpportunityStatuses(ctx)
		if err != nil {
			return nil, err
		}
		return append(leads, opps...), nil
	case KindPipeline:
		return c.Pipelines(ctx)
	case KindRole:
		return c.All(ctx, "role")
	case KindEmailTemplate:
		return c.All(ctx, "email_template")
	case KindSMSTemplate:
		return c.All(ctx, "sms_template")
	case KindSequence:
		return c.All(ctx, "sequence")
	}
	return nil, fmt.Errorf("unknown object kind %q", kind)
}
