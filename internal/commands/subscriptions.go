package commands

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"go.uber.org/zap"
)

const (
	// SubscriptionShardSize is the shard size of the subscribed leads search.
	SubscriptionShardSize = 1000

	subscribedLeadsQuery = "contact(sequence_subscription(sequence:*))"
)

// DefaultSenderStatuses are the subscription states that still send emails.
var DefaultSenderStatuses = []string{"active", "paused", "error"}

type SequenceSubscriptionsParams struct {
	SequenceID string
	// Statuses keeps only subscriptions in one of these states. Empty keeps all.
	Statuses []string
}

type SubscriptionRow struct {
	ID              string `csv:"id" json:"id"`
	SequenceID      string `csv:"sequence_id" json:"sequence_id"`
	SequenceName    string `csv:"sequence_name" json:"sequence_name"`
	ContactID       string `csv:"contact_id" json:"contact_id"`
	ContactEmail    string `csv:"contact_email" json:"contact_email"`
	SenderAccountID string `csv:"sender_account_id" json:"sender_account_id"`
	SenderEmail     string `csv:"sender_email" json:"sender_email"`
	SenderName      string `csv:"sender_name" json:"sender_name"`
	Status          string `csv:"status" json:"status"`
	PauseReason     string `csv:"pause_reason" json:"pause_reason"`
}

// SequenceSubscriptions exports the sequence subscriptions of every subscribed lead. Leads
// are found with a sharded search and their subscriptions read on the worker pool. A failing
// shard or lead is left out of the report and listed in its Failed errors.
func SequenceSubscriptions(ctx context.Context, d *Deps, p SequenceSubscriptionsParams) (*Report[SubscriptionRow], error) {
	log := d.Log.Named("sequence_subscriptions")

	o, err := d.Catalog.Organization(ctx)
	if err != nil {
		return nil, err
	}
	sequences, err := d.Fetcher().FetchAll(ctx, "sequence", url.Values{"_fields": {"id,name"}})
	if err != nil {
		return nil, fmt.Errorf("fetch sequences: %w", err)
	}
	names := make(map[string]string, len(sequences))
	for _, s := range sequences {
		names[s.ID()] = s.String("name")
	}

	leads, failed, err := fetchSharded(ctx, d.shardFetcher(SubscriptionShardSize), log, "lead", url.Values{
		"query":   {subscribedLeadsQuery},
		"_fields": {"id"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch subscribed leads: %w", err)
	}
	log.Info("subscribed leads", zap.Int("leads", len(leads)))

	subs, leadFailures, err := perLead(ctx, d, log, leads, func(ctx context.Context, lead closeio.Record) ([]closeio.Record, error) {
		params := url.Values{"lead_id": {lead.ID()}}
		if p.SequenceID != "" {
			params.Set("sequence_id", p.SequenceID)
		}
		return d.Fetcher().FetchAll(ctx, "sequence_subscription", params)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch subscriptions: %w", err)
	}

	rep := &Report[SubscriptionRow]{Failed: append(failed, leadFailures...)}
	for _, s := range subs {
		if len(p.Statuses) > 0 && !slices.Contains(p.Statuses, s.String("status")) {
			continue
		}
		rep.Rows = append(rep.Rows, SubscriptionRow{
			ID:              s.ID(),
			SequenceID:      s.String("sequence_id"),
			SequenceName:    names[s.String("sequence_id")],
			ContactID:       s.String("contact_id"),
			ContactEmail:    s.String("contact_email"),
			SenderAccountID: s.String("sender_account_id"),
			SenderEmail:     s.String("sender_email"),
			SenderName:      s.String("sender_name"),
			Status:          s.String("status"),
			PauseReason:     s.String("pause_reason"),
		})
	}
	slices.SortFunc(rep.Rows, func(a, b SubscriptionRow) int {
		return cmp.Compare(a.ID, b.ID)
	})

	rep.File = d.outPath(report.SafeFileName(o.String("name")) + " - Sequence subscriptions.csv")
	if err := report.SaveRecords(rep.File, rep.Rows); err != nil {
		return nil, fmt.Errorf("save %s: %w", rep.File, err)
	}
	log.Info("report saved", zap.String("file", rep.File), zap.Int("subscriptions", len(rep.Rows)), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}
