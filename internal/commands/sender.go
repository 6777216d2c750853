package commands

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"go.uber.org/zap"
)

type ChangeSenderParams struct {
	FromEmail       string `validate:"required,email"`
	ToEmail         string `validate:"required,email"`
	SenderAccountID string `validate:"required"`
	SenderName      string `validate:"required"`
	// Statuses selects the subscriptions to move. Empty means DefaultSenderStatuses.
	Statuses []string
}

// ChangeSequenceSender moves every subscription sent from FromEmail, in one of the selected
// states, to the new sender.
func ChangeSequenceSender(ctx context.Context, d *Deps, p ChangeSenderParams) ([]transfer.Outcome, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid change-sequence-sender parameters: %w", err)
	}
	statuses := p.Statuses
	if len(statuses) == 0 {
		statuses = DefaultSenderStatuses
	}
	log := d.Log.Named("change_sender")

	sequences, err := d.Fetcher().FetchAll(ctx, "sequence", url.Values{"_fields": {"id,name"}})
	if err != nil {
		return nil, fmt.Errorf("fetch sequences: %w", err)
	}

	var jobs []transfer.Job
	for _, seq := range sequences {
		log.Info("getting sequence subscriptions", zap.String("sequence", seq.String("name")))
		subs, err := d.Fetcher().FetchAll(ctx, "sequence_subscription", url.Values{
			"sequence_id": {seq.ID()},
			"_fields":     {"id,sender_email,sender_name,sender_account_id,status"},
		})
		if err != nil {
			return nil, fmt.Errorf("fetch subscriptions of sequence %s: %w", seq.ID(), err)
		}
		for _, sub := range subs {
			if sub.String("sender_email") != p.FromEmail || !slices.Contains(statuses, sub.String("status")) {
				continue
			}
			jobs = append(jobs, transfer.Job{
				Key:  sub.ID(),
				Op:   transfer.OpUpdate,
				Path: "sequence_subscription/" + sub.ID(),
				Payload: closeio.Record{
					"sender_name":       p.SenderName,
					"sender_account_id": p.SenderAccountID,
					"sender_email":      p.ToEmail,
				},
				Input: sub,
			})
		}
	}

	log.Info("updating subscriptions", zap.Int("subscriptions", len(jobs)))
	return d.Writer.WriteAll(ctx, jobs)
}
