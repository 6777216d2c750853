package clone

import (
	"context"
	"fmt"
	"strings"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

// BuiltInRoles exist in every organization and are never copied.
var BuiltInRoles = map[string]bool{
	"Admin":           true,
	"Restricted User": true,
	"Super User":      true,
	"User":            true,
}

func (c *Cloner) leadStatuses(ctx context.Context) error {
	statuses, err := c.from.LeadStatuses(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		key := fmt.Sprintf("lead status `%s`", s.String("label"))
		if _, _, err := c.create(ctx, key, "status/lead", transfer.Strip(s, "id")); err != nil {
			return err
		}
	}
	return nil
}

// opportunityStatuses creates missing pipelines together with their statuses and appends the
// statuses of pipelines that already exist by name.
func (c *Cloner) opportunityStatuses(ctx context.Context) error {
	toPipelines, err := c.to.Pipelines(ctx)
	if err != nil {
		return err
	}
	fromPipelines, err := c.from.Pipelines(ctx)
	if err != nil {
		return err
	}

	for _, from := range fromPipelines {
		name := from.String("name")
		to := findBy(toPipelines, "name", name)

		if to == nil {
			payload := transfer.StripForCreate(from)
			statuses := from.Records("statuses")
			stripped := make([]any, 0, len(statuses))
			for _, s := range statuses {
				stripped = append(stripped, map[string]any(transfer.Strip(s, "id", "pipeline_id")))
			}
			payload["statuses"] = stripped

			if _, _, err := c.create(ctx, fmt.Sprintf("pipeline `%s`", name), "pipeline", payload); err != nil {
				return err
			}
			continue
		}

		for _, s := range from.Records("statuses") {
			payload := transfer.Strip(s, "id")
			payload["pipeline_id"] = to.ID()
			key := fmt.Sprintf("opportunity status `%s` in `%s`", s.String("label"), name)
			if _, _, err := c.create(ctx, key, "status/opportunity", payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// customFields copies the fields of one built-in schema. Shared fields are reused by name in
// the destination and only get an association with the schema being copied.
func (c *Cloner) customFields(ctx context.Context, schema string) error {
	toShared, err := c.to.All(ctx, "custom_field/shared")
	if err != nil {
		return err
	}
	fromFields, err := c.from.CustomFieldSchema(ctx, schema)
	if err != nil {
		return err
	}

	for _, f := range fromFields {
		name := f.String("name")
		payload := transfer.StripForCreate(f)

		if !f.Bool("is_shared") {
			key := fmt.Sprintf("%s custom field `%s`", schema, name)
			if _, _, err := c.create(ctx, key, "custom_field/"+schema, payload); err != nil {
				return err
			}
			continue
		}

		shared := findBy(toShared, "name", name)
		if shared == nil {
			res, ok, err := c.create(ctx, fmt.Sprintf("shared custom field `%s`", name), "custom_field/shared", payload)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			shared = res
			toShared = append(toShared, res)
		}

		key := fmt.Sprintf("%s association of shared custom field `%s`", schema, name)
		assoc := closeio.Record{"object_type": schema}
		if _, _, err := c.create(ctx, key, sharedAssociationPath(shared.ID()), assoc); err != nil {
			return err
		}
	}
	return nil
}

func sharedAssociationPath(id string) string {
	return "custom_field/shared/" + id + "/association"
}

func (c *Cloner) roles(ctx context.Context) error {
	roles, err := c.from.All(ctx, "role")
	if err != nil {
		return err
	}
	for _, r := range roles {
		key := fmt.Sprintf("role `%s`", r.String("name"))
		if BuiltInRoles[r.String("name")] {
			c.skip(key, "built-in role")
			continue
		}
		if _, _, err := c.create(ctx, key, "role", transfer.StripForCreate(r)); err != nil {
			return err
		}
	}
	return nil
}

// sequences points every email and SMS step at the shared destination template of the same
// name. Templates must have been copied before.
func (c *Cloner) sequences(ctx context.Context) error {
	toEmail, err := c.to.All(ctx, "email_template")
	if err != nil {
		return err
	}
	toSMS, err := c.to.All(ctx, "sms_template")
	if err != nil {
		return err
	}
	sequences, err := c.from.All(ctx, "sequence")
	if err != nil {
		return err
	}

	names := map[string]string{}
	templateName := func(collection, id string) (string, error) {
		if n, ok := names[id]; ok {
			return n, nil
		}
		t, err := c.from.Source().Get(ctx, collection+"/"+id, fieldsParam("name"))
		if err != nil {
			return "", fmt.Errorf("get %s %s: %w", collection, id, err)
		}
		names[id] = t.String("name")
		return names[id], nil
	}

	for _, seq := range sequences {
		payload := transfer.StripForCreate(seq)

		for _, step := range payload.Records("steps") {
			delete(step, "id")

			for _, ref := range []struct {
				field, collection string
				dest              []closeio.Record
			}{
				{"email_template_id", "email_template", toEmail},
				{"sms_template_id", "sms_template", toSMS},
			} {
				id := step.String(ref.field)
				if id == "" {
					continue
				}
				name, err := templateName(ref.collection, id)
				if err != nil {
					return err
				}
				if t := sharedTemplate(ref.dest, name); t != nil {
					step[ref.field] = t.ID()
				} else {
					c.log.Warn("no shared destination template for sequence step",
						zap.String("sequence", seq.String("name")),
						zap.String("template", name),
					)
				}
			}
		}

		key := fmt.Sprintf("sequence `%s`", seq.String("name"))
		if _, _, err := c.create(ctx, key, "sequence", payload); err != nil {
			return err
		}
	}
	return nil
}

func sharedTemplate(templates []closeio.Record, name string) closeio.Record {
	for _, t := range templates {
		if t.String("name") == name && t.Bool("is_shared") {
			return t
		}
	}
	return nil
}

// roleRemapper maps source role ids to destination role ids by name. Built-in role
// identifiers such as `admin` are kept.
type roleRemapper struct {
	c       *Cloner
	toRoles []closeio.Record
	names   map[string]string
}

func (r *roleRemapper) remap(ctx context.Context, ids []any) ([]any, error) {
	out := make([]any, 0, len(ids))
	for _, v := range ids {
		id, _ := v.(string)
		if !strings.HasPrefix(id, "role_") {
			out = append(out, v)
			continue
		}

		if r.toRoles == nil {
			roles, err := r.c.to.All(ctx, "role")
			if err != nil {
				return nil, err
			}
			r.toRoles = roles
		}
		name, ok := r.names[id]
		if !ok {
			role, err := r.c.from.Source().Get(ctx, "role/"+id, fieldsParam("name"))
			if err != nil {
				return nil, fmt.Errorf("get role %s: %w", id, err)
			}
			name = role.String("name")
			r.names[id] = name
		}
		if to := findBy(r.toRoles, "name", name); to != nil {
			out = append(out, to.ID())
		}
	}
	return out, nil
}

// customActivities creates each custom activity type and then its fields: shared fields are
// reused by name (or created) and associated, regular fields are created on the new type.
func (c *Cloner) customActivities(ctx context.Context) error {
	activityFields, err := c.from.All(ctx, "custom_field/activity")
	if err != nil {
		return err
	}
	sharedFields, err := c.from.All(ctx, "custom_field/shared")
	if err != nil {
		return err
	}
	fromFields := append(activityFields, sharedFields...)

	toShared, err := c.to.All(ctx, "custom_field/shared")
	if err != nil {
		return err
	}
	types, err := c.from.CustomActivityTypes(ctx)
	if err != nil {
		return err
	}

	roles := &roleRemapper{c: c, names: map[string]string{}}

	for _, at := range types {
		typeName := at.String("name")
		payload := transfer.StripForCreate(at)

		if ids, ok := payload["editable_with_roles"].([]any); ok && len(ids) > 0 {
			remapped, err := roles.remap(ctx, ids)
			if err != nil {
				return err
			}
			payload["editable_with_roles"] = remapped
		}

		newType, ok, err := c.create(ctx, fmt.Sprintf("custom activity `%s`", typeName), "custom_activity", payload)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		for _, field := range at.Records("fields") {
			name := field.String("name")
			// The type's field list omits parts of the field such as choices.
			full := findBy(fromFields, "id", field.ID())
			if full == nil {
				c.log.Warn("custom activity field not found in source",
					zap.String("activity", typeName),
					zap.String("field", name),
				)
				continue
			}

			rawRoles, _ := field["editable_with_roles"].([]any)
			fieldRoles, err := roles.remap(ctx, rawRoles)
			if err != nil {
				return err
			}

			if !field.Bool("is_shared") {
				p := transfer.StripForCreate(full)
				p["custom_activity_type_id"] = newType.ID()
				key := fmt.Sprintf("`%s` field of custom activity `%s`", name, typeName)
				if _, _, err := c.create(ctx, key, "custom_field/activity", p); err != nil {
					return err
				}
				continue
			}

			shared := findBy(toShared, "name", name)
			if shared == nil {
				// Associations reference source activity types.
				p := transfer.StripForCreate(full, "associations")
				res, ok, err := c.create(ctx, fmt.Sprintf("shared custom field `%s`", name), "custom_field/shared", p)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				shared = res
				toShared = append(toShared, res)
			}

			assoc := closeio.Record{
				"object_type":             "custom_activity_type",
				"custom_activity_type_id": newType.ID(),
				"required":                field.Bool("required"),
				"editable_with_roles":     fieldRoles,
			}
			key := fmt.Sprintf("custom activity `%s` association of shared custom field `%s`", typeName, name)
			if _, _, err := c.create(ctx, key, sharedAssociationPath(shared.ID()), assoc); err != nil {
				return err
			}
		}
	}
	return nil
}

func isInvalidMember(err error) bool {
	return strings.Contains(err.Error(), "Invalid organization members")
}

// groups copies groups by name. With members, users that are not in the destination
// organization are skipped.
func (c *Cloner) groups(ctx context.Context, withMembers bool) error {
	groups, err := c.from.All(ctx, "group")
	if err != nil {
		return err
	}
	for _, g := range groups {
		group, err := c.from.Source().Get(ctx, "group/"+g.ID(), fieldsParam("name", "members"))
		if err != nil {
			return fmt.Errorf("get group %s: %w", g.ID(), err)
		}
		name := group.String("name")

		newGroup, ok, err := c.create(ctx, fmt.Sprintf("group `%s`", name), "group", closeio.Record{"name": name})
		if err != nil {
			return err
		}
		if !ok || !withMembers {
			continue
		}

		for _, m := range group.Records("members") {
			_, err := c.writer.Write(ctx, transfer.Job{
				Key:      fmt.Sprintf("member %s of group `%s`", m.String("user_id"), name),
				Op:       transfer.OpCreate,
				Path:     "group/" + newGroup.ID() + "/member",
				Payload:  closeio.Record{"user_id": m.String("user_id")},
				Tolerate: isInvalidMember,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
