// Package commands implements the closeutil reports and imports on top of the transfer
// engine. Every command reads through the Fetcher and writes through the Writer it is given,
// so dry runs and live runs share one code path.
package commands

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/report"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// Deps are the collaborators shared by all commands.
type Deps struct {
	Source  transfer.Source
	Catalog *transfer.Catalog
	Writer  *transfer.Writer
	Log     *zap.Logger
	// OutDir is where report files are written. Empty means the working directory.
	OutDir string
}

func NewDeps(src transfer.Source, fetch *transfer.Fetcher, w *transfer.Writer, log *zap.Logger) *Deps {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deps{
		Source:  src,
		Catalog: transfer.NewCatalog(src, fetch),
		Writer:  w,
		Log:     log,
	}
}

func (d *Deps) Fetcher() *transfer.Fetcher {
	return d.Catalog.Fetcher()
}

func (d *Deps) outPath(name string) string {
	return filepath.Join(d.OutDir, name)
}

// shardFetcher is the Fetcher with another shard size, for searches with a known result size.
func (d *Deps) shardFetcher(size int) *transfer.Fetcher {
	return transfer.NewFetcher(d.Source,
		transfer.ShardSize(size),
		transfer.Concurrency(d.Fetcher().Concurrency()),
		transfer.FetcherLogger(d.Log),
	)
}

// Report is the result of a read-only report. A report is written even when some shards or
// records could not be fetched; those are listed in Failed.
type Report[R any] struct {
	File   string
	Rows   []R
	Failed []error
}

// fetchSharded runs a sharded search in which a failing shard only loses its own records.
// Shard failures are logged and returned; a failed count or a cancelled run is fatal.
func fetchSharded(ctx context.Context, f *transfer.Fetcher, log *zap.Logger, path string, params url.Values) ([]closeio.Record, []error, error) {
	records, err := f.FetchSharded(ctx, path, params)
	shards, fatal := transfer.SplitShardErrors(err)
	if fatal != nil {
		return nil, nil, fatal
	}

	failed := make([]error, 0, len(shards))
	for _, se := range shards {
		log.Error("shard failed, its records are left out of the report",
			zap.String("path", path),
			zap.Int("shard", se.Shard),
			zap.Int("of", se.Of),
			zap.Error(se.Err),
		)
		failed = append(failed, se)
	}
	return records, failed, nil
}

// perLead fetches one collection for every lead on the worker pool. A lead whose fetch fails
// is logged and reported in the returned failures; the other leads are kept.
func perLead(ctx context.Context, d *Deps, log *zap.Logger, leads []closeio.Record, fetch func(ctx context.Context, lead closeio.Record) ([]closeio.Record, error)) ([]closeio.Record, []error, error) {
	var (
		acc    transfer.Accumulator[closeio.Record]
		failed transfer.Accumulator[error]
	)
	err := transfer.ForEach(ctx, leads, d.Fetcher().Concurrency(), func(ctx context.Context, _ int, lead closeio.Record) error {
		records, err := fetch(ctx, lead)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("lead failed, its records are left out of the report", zap.String("lead", lead.ID()), zap.Error(err))
			failed.Add(fmt.Errorf("lead %s: %w", lead.ID(), err))
			return nil
		}
		acc.Add(records...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return acc.Items(), failed.Items(), nil
}

// org is the organization of the API key with its members.
type org struct {
	ID   string
	Name string
	// UserID is the API key's user.
	UserID string
	// Active holds active members, All active and inactive ones. Both map user id to full name.
	Active map[string]string
	All    map[string]string
	Roles  map[string]string
}

func loadOrg(ctx context.Context, d *Deps) (*org, error) {
	me, err := d.Source.Get(ctx, "me", nil)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	rec, err := d.Catalog.OrganizationFields(ctx, "id", "name", "memberships", "inactive_memberships")
	if err != nil {
		return nil, err
	}

	o := &org{
		ID:     rec.ID(),
		Name:   rec.String("name"),
		UserID: me.ID(),
		Active: map[string]string{},
		All:    map[string]string{},
		Roles:  map[string]string{},
	}
	for _, m := range rec.Records("memberships") {
		o.Active[m.String("user_id")] = m.String("user_full_name")
		o.All[m.String("user_id")] = m.String("user_full_name")
		o.Roles[m.String("user_id")] = memberRole(m)
	}
	for _, m := range rec.Records("inactive_memberships") {
		o.All[m.String("user_id")] = m.String("user_full_name")
		o.Roles[m.String("user_id")] = memberRole(m)
	}
	return o, nil
}

func memberRole(m closeio.Record) string {
	if r := m.String("role_id"); r != "" {
		return r
	}
	return m.String("role")
}

func (o *org) knownUsers() map[string]bool {
	out := make(map[string]bool, len(o.All))
	for id := range o.All {
		out[id] = true
	}
	return out
}

func (o *org) fileName(suffix string) string {
	return report.SafeFileName(o.Name) + suffix
}
