package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"go.uber.org/zap"
)

// ErrNotAdmin is returned when a report needs an admin API key.
var ErrNotAdmin = errors.New("the api key user must be an admin of the organization")

const adminRole = "admin"

type DeletedLeadRow struct {
	Date       string `csv:"Date" json:"date_created"`
	User       string `csv:"User" json:"username"`
	LeadName   string `csv:"Lead Name" json:"display_name"`
	LeadStatus string `csv:"Lead Status" json:"lead_status"`
	LeadID     string `csv:"Lead ID" json:"lead_id"`
	HowDeleted string `csv:"How Was Lead Deleted?" json:"how_deleted"`
}

// HowDeleted classifies a lead deletion event by its meta. An event without meta gives "".
func HowDeleted(meta closeio.Record) string {
	if meta == nil {
		return ""
	}
	switch {
	case meta["bulk_action_id"] != nil:
		return fmt.Sprintf("Bulk Delete via Close.io (%s)", meta.String("bulk_action_id"))
	case meta["merge_source_lead_id"] != nil:
		return fmt.Sprintf("Merged with another lead (%s)", meta.String("merge_destination_lead_id"))
	case meta["revert_import_id"] != nil:
		return fmt.Sprintf("A Close.io Import Was Reverted (%s)", meta.String("revert_import_id"))
	}
	return "Manually in Close.io or via a single API Call"
}

// LeadsDeleted reports the lead deletions in the event log with who deleted each lead and
// how. Leads removed by reverting an import are attributed to the user who reverted it; when
// the import's events cannot be read, the deletion event's own user is kept.
func LeadsDeleted(ctx context.Context, d *Deps) (*Report[DeletedLeadRow], error) {
	log := d.Log.Named("leads_deleted")

	o, err := loadOrg(ctx, d)
	if err != nil {
		return nil, err
	}
	if o.Roles[o.UserID] != adminRole {
		return nil, ErrNotAdmin
	}

	log.Info("getting deleted leads")
	events, err := d.Fetcher().FetchCursor(ctx, "event", url.Values{
		"object_type": {"lead"},
		"action":      {"deleted"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch lead deletions: %w", err)
	}

	reverters := map[string]string{}
	rep := &Report[DeletedLeadRow]{Rows: make([]DeletedLeadRow, 0, len(events))}
	for _, ev := range events {
		prev := ev.Map("previous_data")
		meta := ev.Map("meta")
		row := DeletedLeadRow{
			Date:       ev.String("date_created"),
			LeadName:   prev.String("display_name"),
			LeadStatus: prev.String("status_label"),
			LeadID:     ev.String("lead_id"),
			HowDeleted: HowDeleted(meta),
		}

		if importID := meta.String("revert_import_id"); importID != "" {
			userID, ok := reverters[importID]
			if !ok {
				if userID, err = importReverter(ctx, d, importID); err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					log.Error("cannot read import events", zap.String("import", importID), zap.Error(err))
					rep.Failed = append(rep.Failed, err)
				}
				reverters[importID] = userID
			}
			row.User = o.All[userID]
		}
		if row.User == "" {
			row.User = o.All[ev.String("user_id")]
		}
		rep.Rows = append(rep.Rows, row)
	}

	rep.File = d.outPath(o.fileName(" Delete Lead Events in 30 Days.csv"))
	if err := report.SaveRecords(rep.File, rep.Rows); err != nil {
		return nil, fmt.Errorf("save %s: %w", rep.File, err)
	}
	log.Info("report saved", zap.String("file", rep.File), zap.Int("events", len(rep.Rows)), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

// importReverter returns the user of the first deletion event of an import, or "".
func importReverter(ctx context.Context, d *Deps, importID string) (string, error) {
	events, err := d.Fetcher().FetchCursor(ctx, "event", url.Values{
		"object_type": {"import"},
		"object_id":   {importID},
	})
	if err != nil {
		return "", fmt.Errorf("fetch events of import %s: %w", importID, err)
	}
	for _, ev := range events {
		if ev.String("action") == "deleted" {
			return ev.String("user_id"), nil
		}
	}
	return "", nil
}
