package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

// OriginalLeadIDField is the custom field that keeps the id of an imported lead.
const OriginalLeadIDField = "Original Lead ID"

// activityPaths are the activity types restored by an import. Emails come back through
// email sync.
var activityPaths = map[string]string{
	"Call": "activity/call",
	"Note": "activity/note",
	"SMS":  "activity/sms",
}

type ImportLeadsParams struct {
	// File is a JSON array of leads as exported by Close.
	File string `validate:"required"`
}

type ImportResult struct {
	Imported []string
	Errored  []closeio.Record
	// ErrorFile holds the leads that could not be created. Empty when none failed.
	ErrorFile string
}

type leadImporter struct {
	d     *Deps
	org   *org
	known map[string]bool
	log   *zap.Logger
}

// ImportLeads restores leads exported from one organization into another with their
// contacts, opportunities, tasks and call, note and SMS activities.
func ImportLeads(ctx context.Context, d *Deps, p ImportLeadsParams) (*ImportResult, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid import-leads parameters: %w", err)
	}

	var leads []closeio.Record
	if err := report.ReadJSON(p.File, &leads); err != nil {
		return nil, err
	}

	o, err := loadOrg(ctx, d)
	if err != nil {
		return nil, err
	}
	imp := &leadImporter{d: d, org: o, known: o.knownUsers(), log: d.Log.Named("import_leads")}

	if err := imp.ensureStatuses(ctx, leads); err != nil {
		return nil, err
	}

	imp.log.Info("restoring leads", zap.Int("leads", len(leads)))
	var imported transfer.Accumulator[string]
	var errored transfer.Accumulator[closeio.Record]
	err = transfer.ForEach(ctx, leads, d.Fetcher().Concurrency(), func(ctx context.Context, _ int, lead closeio.Record) error {
		id, ok, err := imp.restore(ctx, lead)
		if err != nil {
			return err
		}
		if ok {
			imported.Add(id)
		} else {
			errored.Add(lead)
		}
		return nil
	})

	res := &ImportResult{Imported: imported.Items(), Errored: errored.Items()}
	if len(res.Errored) > 0 {
		res.ErrorFile = d.outPath(o.fileName(" Errored Leads from JSON Import.json"))
		if saveErr := report.SaveJSON(res.ErrorFile, res.Errored); saveErr != nil {
			return res, fmt.Errorf("save %s: %w", res.ErrorFile, saveErr)
		}
	}
	imp.log.Info("leads restored",
		zap.Int("restored", len(res.Imported)),
		zap.Int("not_restored", len(leads)-len(res.Imported)),
	)
	return res, err
}

// ensureStatuses creates the lead and opportunity statuses the leads use that the
// organization does not have yet.
func (imp *leadImporter) ensureStatuses(ctx context.Context, leads []closeio.Record) error {
	leadStatuses, err := imp.d.Catalog.LeadStatuses(ctx)
	if err != nil {
		return err
	}
	oppStatuses, err := imp.d.Catalog.OpportunityStatuses(ctx)
	if err != nil {
		return err
	}
	haveLead := labels(leadStatuses)
	haveOpp := labels(oppStatuses)

	var jobs []transfer.Job
	for _, lead := range leads {
		if l := lead.String("status_label"); l != "" && !haveLead[l] {
			haveLead[l] = true
			jobs = append(jobs, transfer.Job{
				Key: "lead status " + l, Op: transfer.OpCreate, Path: "status/lead",
				Payload: closeio.Record{"label": l},
			})
		}
		for _, opp := range lead.Records("opportunities") {
			if l := opp.String("status_label"); l != "" && !haveOpp[l] {
				haveOpp[l] = true
				jobs = append(jobs, transfer.Job{
					Key: "opportunity status " + l, Op: transfer.OpCreate, Path: "status/opportunity",
					Payload: closeio.Record{"label": l, "type": opp.String("status_type")},
				})
			}
		}
	}
	_, err = imp.d.Writer.WriteAll(ctx, jobs)
	return err
}

func labels(statuses []closeio.Record) map[string]bool {
	out := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		out[s.String("label")] = true
	}
	return out
}

func (imp *leadImporter) leadPayload(lead closeio.Record) closeio.Record {
	custom := transfer.ClearUnknownUsers(lead.Map("custom"), imp.known)
	if custom == nil {
		custom = closeio.Record{}
	}
	custom[OriginalLeadIDField] = lead.ID()

	contacts := make([]any, 0)
	for _, c := range lead.Records("contacts") {
		contacts = append(contacts, transfer.Strip(c, "id", "lead_id"))
	}

	return closeio.Record{
		"status":       lead.String("status_label"),
		"name":         lead.String("display_name"),
		"date_created": lead["date_created"],
		"created_by":   lead["created_by"],
		"url":          lead["url"],
		"custom":       custom,
		"contacts":     contacts,
	}
}

// restore creates one lead and its related objects. ok is false when the lead itself could
// not be created.
func (imp *leadImporter) restore(ctx context.Context, lead closeio.Record) (string, bool, error) {
	o, err := imp.d.Writer.Write(ctx, transfer.Job{
		Key:     lead.ID(),
		Op:      transfer.OpCreate,
		Path:    "lead",
		Payload: imp.leadPayload(lead),
		Input:   lead,
	})
	if err != nil {
		return "", false, err
	}
	if o.Status != transfer.StatusCreated {
		return "", false, nil
	}
	newID := o.Result.ID()

	// Contacts come back in the order they were posted.
	contacts := transfer.Mapping{}
	created := o.Result.Records("contacts")
	for i, c := range lead.Records("contacts") {
		if i < len(created) && created[i].ID() != "" {
			contacts[c.ID()] = created[i].ID()
		}
	}

	var jobs []transfer.Job
	for _, opp := range lead.Records("opportunities") {
		jobs = append(jobs, imp.opportunityJob(opp, newID, contacts))
	}
	tasks := lead.Records("tasks")
	for _, task := range tasks {
		jobs = append(jobs, imp.taskJob(task, newID))
	}
	if _, err := imp.d.Writer.WriteAll(ctx, jobs); err != nil {
		return "", false, err
	}
	if len(tasks) > 0 {
		imp.removeTaskCompleted(ctx, newID)
	}

	var activities []transfer.Job
	for _, act := range lead.Records("activities") {
		if _, ok := activityPaths[act.String("_type")]; ok {
			activities = append(activities, imp.activityJob(act, newID, contacts))
		}
	}
	if _, err := imp.d.Writer.WriteAll(ctx, activities); err != nil {
		return "", false, err
	}

	imp.log.Info("lead imported", zap.String("lead", lead.ID()), zap.String("new_lead", newID))
	return newID, true, nil
}

func (imp *leadImporter) activeUser(id string) string {
	if _, ok := imp.org.Active[id]; ok {
		return id
	}
	return imp.org.UserID
}

func (imp *leadImporter) opportunityJob(opp closeio.Record, leadID string, contacts transfer.Mapping) transfer.Job {
	payload := transfer.StripForCreate(opp, "status_id", "status_label")
	payload["user_id"] = imp.activeUser(opp.String("user_id"))
	if c := opp.String("contact_id"); c != "" {
		payload["contact_id"] = contacts.Resolve(c)
	}
	payload["status"] = opp.String("status_label")
	payload["lead_id"] = leadID
	return transfer.Job{Key: "opportunity " + opp.ID(), Op: transfer.OpCreate, Path: "opportunity", Payload: payload, Input: opp}
}

func (imp *leadImporter) taskJob(task closeio.Record, leadID string) transfer.Job {
	payload := transfer.StripForCreate(task)
	payload["assigned_to"] = imp.activeUser(task.String("assigned_to"))
	payload["lead_id"] = leadID
	return transfer.Job{Key: "task " + task.ID(), Op: transfer.OpCreate, Path: "task", Payload: payload, Input: task}
}

func (imp *leadImporter) activityJob(act closeio.Record, leadID string, contacts transfer.Mapping) transfer.Job {
	typ := act.String("_type")
	payload := transfer.StripForCreate(act, "_type")
	payload["lead_id"] = leadID
	if c := act.String("contact_id"); c != "" {
		payload["contact_id"] = contacts.Resolve(c)
	}
	switch typ {
	case "Call":
		delete(payload, "quality_info")
		payload["source"] = "External"
	case "SMS":
		if s := act.String("status"); s == "outbox" || s == "scheduled" {
			payload["status"] = "draft"
		}
	}
	return transfer.Job{Key: typ + " " + act.ID(), Op: transfer.OpCreate, Path: activityPaths[typ], Payload: payload, Input: act}
}

// removeTaskCompleted deletes the task completed activities the task import created on the
// new lead, since they sort to the top of the timeline. Failures are only logged.
func (imp *leadImporter) removeTaskCompleted(ctx context.Context, leadID string) {
	if imp.d.Writer.DryRun() {
		return
	}
	done, err := imp.d.Fetcher().FetchAll(ctx, "activity/task_completed", url.Values{
		"lead_id": {leadID},
		"_fields": {"id"},
	})
	if err != nil {
		imp.log.Warn("cannot list task completed activities", zap.String("lead", leadID), zap.Error(err))
		return
	}
	for _, a := range done {
		if err := imp.d.Source.Delete(ctx, "activity/task_completed/"+a.ID()); err != nil {
			imp.log.Warn("cannot delete task completed activity", zap.String("id", a.ID()), zap.Error(err))
		}
	}
}
