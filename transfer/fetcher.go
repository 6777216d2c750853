package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultShardSize = 500

// ShardQualifier narrows a query to shard `shard` (1-based) of `total`.
type ShardQualifier func(params url.Values, shard, total int) url.Values

// SliceQualifier appends Close's `slice:i/n` search qualifier to the `query` param.
func SliceQualifier(params url.Values, shard, total int) url.Values {
	out := cloneParams(params)
	slice := fmt.Sprintf("slice:%d/%d", shard, total)
	if q := params.Get("query"); q != "" {
		out.Set("query", fmt.Sprintf("(%s) %s", q, slice))
	} else {
		out.Set("query", slice)
	}
	return out
}

// Fetcher drains paged collections into memory.
type Fetcher struct {
	src         Lister
	shardSize   int
	concurrency int
	qualify     ShardQualifier
	log         *zap.Logger
}

// FetcherOpt configures a [Fetcher].
type FetcherOpt func(f *Fetcher)

// ShardSize sets the number of records per shard in [Fetcher.FetchSharded].
func ShardSize(n int) FetcherOpt {
	return func(f *Fetcher) {
		if n > 0 {
			f.shardSize = n
		}
	}
}

// Concurrency bounds the number of shards fetched at the same time.
func Concurrency(n int) FetcherOpt {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// Qualifier replaces the default [SliceQualifier].
func Qualifier(q ShardQualifier) FetcherOpt {
	return func(f *Fetcher) {
		if q != nil {
			f.qualify = q
		}
	}
}

func FetcherLogger(log *zap.Logger) FetcherOpt {
	return func(f *Fetcher) {
		f.log = log.Named("fetcher")
	}
}

func NewFetcher(src Lister, opts ...FetcherOpt) *Fetcher {
	f := &Fetcher{
		src:         src,
		shardSize:   DefaultShardSize,
		concurrency: DefaultConcurrency,
		qualify:     SliceQualifier,
		log:         zap.NewNop(),
	}
	for _, optFn := range opts {
		optFn(f)
	}
	return f
}

func (f *Fetcher) Concurrency() int {
	return f.concurrency
}

// FetchAll pages through an offset paged collection. `_skip` advances by the number of
// records actually received, so a server returning short pages is still read exactly once.
func (f *Fetcher) FetchAll(ctx context.Context, path string, params url.Values) ([]closeio.Record, error) {
	params = cloneParams(params)

	var out []closeio.Record
	skip := 0
	for {
		params.Set("_skip", strconv.Itoa(skip))
		page, err := f.src.List(ctx, path, params)
		if err != nil {
			return nil, fmt.Errorf("fetch %s at offset %d: %w", path, skip, err)
		}
		out = append(out, page.Data...)
		skip += len(page.Data)

		if !page.HasMore || len(page.Data) == 0 {
			break
		}
	}

	f.log.Debug("fetched collection", zap.String("path", path), zap.Int("records", len(out)))
	return out, nil
}

// FetchCursor pages through a cursor paged collection (the event log) until the server
// stops returning a next cursor.
func (f *Fetcher) FetchCursor(ctx context.Context, path string, params url.Values) ([]closeio.Record, error) {
	params = cloneParams(params)

	var out []closeio.Record
	cursor := ""
	for {
		params.Set("_cursor", cursor)
		page, err := f.src.List(ctx, path, params)
		if err != nil {
			return nil, fmt.Errorf("fetch %s at cursor %q: %w", path, cursor, err)
		}
		out = append(out, page.Data...)
		f.log.Debug("fetched cursor page", zap.String("path", path), zap.Int("records", len(out)))

		if page.CursorNext == "" {
			break
		}
		cursor = page.CursorNext
	}
	return out, nil
}

// Count returns the number of records matching params without fetching them.
func (f *Fetcher) Count(ctx context.Context, path string, params url.Values) (int, error) {
	params = cloneParams(params)
	params.Set("_limit", "0")
	params.Set("_fields", "id")
	params.Del("_skip")

	page, err := f.src.List(ctx, path, params)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", path, err)
	}
	return page.TotalResults, nil
}

// ShardError is the failure of one shard of [Fetcher.FetchSharded].
type ShardError struct {
	Shard int
	Of    int
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %d/%d: %v", e.Shard, e.Of, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

// SplitShardErrors separates the error of FetchSharded into the shards that failed on their
// own and whatever stopped the fetch as a whole (a failed count, a cancelled context).
func SplitShardErrors(err error) ([]*ShardError, error) {
	var (
		shards []*ShardError
		fatal  []error
	)
	for _, e := range multierr.Errors(err) {
		var se *ShardError
		if errors.As(e, &se) {
			shards = append(shards, se)
			continue
		}
		fatal = append(fatal, e)
	}
	return shards, multierr.Combine(fatal...)
}

// ShardCount is ceil(total/size).
func ShardCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// FetchSharded counts the matching records, splits the query into ShardCount shards and
// drains each shard with offset paging on the bounded pool.
//
// Results from different shards arrive in no particular order. A failing shard does not stop
// the others: the records of every successful shard are returned along with the combined
// *ShardError values, see [SplitShardErrors].
func (f *Fetcher) FetchSharded(ctx context.Context, path string, params url.Values) ([]closeio.Record, error) {
	total, err := f.Count(ctx, path, params)
	if err != nil {
		return nil, err
	}

	n := ShardCount(total, f.shardSize)
	f.log.Info("fetching shards",
		zap.String("path", path),
		zap.Int("total", total),
		zap.Int("shards", n),
		zap.Int("concurrency", f.concurrency),
	)
	if n == 0 {
		return nil, nil
	}

	shards := make([]int, n)
	for i := range shards {
		shards[i] = i + 1
	}

	var acc Accumulator[closeio.Record]
	err = ForEach(ctx, shards, f.concurrency, func(ctx context.Context, _ int, shard int) error {
		f.log.Debug("fetching shard", zap.Int("shard", shard), zap.Int("of", n))
		recs, err := f.FetchAll(ctx, path, f.qualify(params, shard, n))
		if err != nil {
			f.log.Error("shard failed", zap.Int("shard", shard), zap.Int("of", n), zap.Error(err))
			return &ShardError{Shard: shard, Of: n, Err: err}
		}
		acc.Add(recs...)
		return nil
	})

	return acc.Items(), err
}

// SortByField sorts records in place by one field. Strings compare lexically (ISO
// timestamps sort chronologically), numbers numerically; records missing the field sort last.
func SortByField(records []closeio.Record, field string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		a, aok := records[i][field]
		b, bok := records[j][field]
		if !aok || !bok {
			return aok && !bok
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func cloneParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}
