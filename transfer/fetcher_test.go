package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/fakeclose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func fakeLeads(n int) []closeio.Record {
	faker := gofakeit.New(42)
	out := make([]closeio.Record, n)
	for i := range out {
		out[i] = closeio.Record{
			"id":           fmt.Sprintf("lead_%05d", i),
			"display_name": faker.Company(),
			"date_created": faker.Date().UTC().Format("2006-01-02T15:04:05.000000+00:00"),
		}
	}
	return out
}

func ids(records []closeio.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestFetcher_FetchAll(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		wantCalls int
	}{
		{name: "2500 records  page size 200", total: 2500, pageSize: 200, wantCalls: 13},
		{name: "exact page boundary", total: 400, pageSize: 200, wantCalls: 2},
		{name: "single short page", total: 7, pageSize: 200, wantCalls: 1},
		{name: "empty collection", total: 0, pageSize: 200, wantCalls: 1},
		{name: "page size 1", total: 5, pageSize: 1, wantCalls: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads := fakeLeads(tt.total)
			srv := fakeclose.New().Seed("lead", leads...)
			srv.PageSize = tt.pageSize

			f := NewFetcher(srv, FetcherLogger(zaptest.NewLogger(t)))
			got, err := f.FetchAll(context.Background(), "lead", nil)

			require.NoError(t, err)
			assert.Equal(t, ids(leads), ids(got))
			assert.Len(t, srv.Calls(http.MethodGet, "lead"), tt.wantCalls)
		})
	}
}

func TestFetcher_FetchAll_KeepsParams(t *testing.T) {
	srv := fakeclose.New().Seed("activity/call",
		closeio.Record{"id": "acti_1", "user_id": "user_1"},
		closeio.Record{"id": "acti_2", "user_id": "user_2"},
		closeio.Record{"id": "acti_3", "user_id": "user_1"},
	)
	srv.PageSize = 1

	params := url.Values{"user_id": {"user_1"}}
	got, err := NewFetcher(srv).FetchAll(context.Background(), "activity/call", params)

	require.NoError(t, err)
	assert.Equal(t, []string{"acti_1", "acti_3"}, ids(got))
	assert.Equal(t, url.Values{"user_id": {"user_1"}}, params, "caller params must not be modified")
}

func TestFetcher_FetchAll_Error(t *testing.T) {
	srv := fakeclose.New().Seed("lead", fakeLeads(10)...)
	srv.PageSize = 3
	srv.FailWhen(func(c fakeclose.Call) error {
		if c.Params.Get("_skip") == "6" {
			return fakeclose.BadRequest("boom")
		}
		return nil
	})

	got, err := NewFetcher(srv).FetchAll(context.Background(), "lead", nil)

	var apiErr *closeio.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Nil(t, got)
}

func TestFetcher_FetchCursor(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		pageSize  int
		wantCalls int
	}{
		{name: "2500 records  page size 200", total: 2500, pageSize: 200, wantCalls: 13},
		{name: "exact page boundary", total: 400, pageSize: 200, wantCalls: 2},
		{name: "empty log", total: 0, pageSize: 50, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := fakeLeads(tt.total)
			srv := fakeclose.New().Seed("event", events...).CursorPaged("event")
			srv.PageSize = tt.pageSize

			got, err := NewFetcher(srv).FetchCursor(context.Background(), "event", nil)

			require.NoError(t, err)
			assert.Equal(t, ids(events), ids(got))

			calls := srv.Calls(http.MethodGet, "event")
			assert.Len(t, calls, tt.wantCalls)
			assert.Equal(t, "", calls[0].Params.Get("_cursor"))
		})
	}
}

func TestShardCount(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 500, 0},
		{1, 500, 1},
		{500, 500, 1},
		{501, 500, 2},
		{2500, 1000, 3},
		{10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.total, tt.size), func(t *testing.T) {
			assert.Equal(t, tt.want, ShardCount(tt.total, tt.size))
		})
	}
}

func TestSliceQualifier(t *testing.T) {
	got := SliceQualifier(url.Values{"query": {"has:calls"}, "_fields": {"id"}}, 2, 5)
	assert.Equal(t, "(has:calls) slice:2/5", got.Get("query"))
	assert.Equal(t, "id", got.Get("_fields"))

	got = SliceQualifier(url.Values{}, 1, 3)
	assert.Equal(t, "slice:1/3", got.Get("query"))
}

func TestFetcher_FetchSharded(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		shardSize  int
		wantShards int
	}{
		{name: "uneven shards", total: 1234, shardSize: 500, wantShards: 3},
		{name: "even shards", total: 1000, shardSize: 250, wantShards: 4},
		{name: "one shard", total: 20, shardSize: 500, wantShards: 1},
		{name: "no records", total: 0, shardSize: 500, wantShards: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leads := fakeLeads(tt.total)
			srv := fakeclose.New().Seed("lead", leads...)
			srv.PageSize = 100

			f := NewFetcher(srv, ShardSize(tt.shardSize), Concurrency(3), FetcherLogger(zaptest.NewLogger(t)))
			params := url.Values{"query": {"has:calls"}}

			sharded, err := f.FetchSharded(context.Background(), "lead", params)
			require.NoError(t, err)
			full, err := f.FetchAll(context.Background(), "lead", params)
			require.NoError(t, err)

			assert.ElementsMatch(t, ids(full), ids(sharded))

			shards := map[string]bool{}
			for _, c := range srv.Calls(http.MethodGet, "lead") {
				if q := c.Params.Get("query"); strings.Contains(q, "slice:") {
					assert.True(t, strings.HasPrefix(q, "(has:calls) slice:"), q)
					shards[q] = true
				}
			}
			assert.Len(t, shards, tt.wantShards)
		})
	}
}

func TestFetcher_FetchSharded_FailedShardIsolated(t *testing.T) {
	leads := fakeLeads(300)
	srv := fakeclose.New().Seed("lead", leads...)
	srv.FailWhen(func(c fakeclose.Call) error {
		if strings.HasSuffix(c.Params.Get("query"), "slice:2/3") {
			return fakeclose.BadRequest("shard down")
		}
		return nil
	})

	f := NewFetcher(srv, ShardSize(100))
	got, err := f.FetchSharded(context.Background(), "lead", nil)

	var apiErr *closeio.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "shard 2/3")
	assert.Len(t, got, 200)

	failed, fatal := SplitShardErrors(err)
	assert.NoError(t, fatal)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Shard)
	assert.Equal(t, 3, failed[0].Of)
}

func TestSplitShardErrors(t *testing.T) {
	countErr := errors.New("count lead: down")
	shardErr := &ShardError{Shard: 1, Of: 2, Err: errors.New("boom")}

	tests := []struct {
		name       string
		err        error
		wantShards int
		wantFatal  assert.ErrorAssertionFunc
	}{
		{name: "no error", err: nil, wantShards: 0, wantFatal: assert.NoError},
		{name: "count failed", err: countErr, wantShards: 0, wantFatal: assert.Error},
		{name: "one shard failed", err: shardErr, wantShards: 1, wantFatal: assert.NoError},
		{name: "shard and cancellation", err: multierr.Combine(shardErr, context.Canceled), wantShards: 1, wantFatal: assert.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shards, fatal := SplitShardErrors(tt.err)
			assert.Len(t, shards, tt.wantShards)
			tt.wantFatal(t, fatal)
		})
	}
}

func TestFetcher_FetchSharded_CountFails(t *testing.T) {
	srv := fakeclose.New()
	srv.FailWhen(func(c fakeclose.Call) error { return errors.New("down") })

	_, err := NewFetcher(srv).FetchSharded(context.Background(), "lead", nil)
	assert.Error(t, err)
}

func TestFetcher_Count(t *testing.T) {
	srv := fakeclose.New().Seed("lead", fakeLeads(42)...)

	got, err := NewFetcher(srv).Count(context.Background(), "lead", url.Values{"_skip": {"10"}})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	calls := srv.Calls(http.MethodGet, "lead")
	require.Len(t, calls, 1)
	assert.Equal(t, "0", calls[0].Params.Get("_limit"))
	assert.Equal(t, "id", calls[0].Params.Get("_fields"))
	assert.False(t, calls[0].Params.Has("_skip"))
}

func TestSortByField(t *testing.T) {
	records := []closeio.Record{
		{"id": "a", "date_created": "2024-01-02T00:00:00"},
		{"id": "b"},
		{"id": "c", "date_created": "2024-03-01T00:00:00"},
		{"id": "d", "date_created": "2023-12-31T00:00:00"},
	}
	SortByField(records, "date_created", true)
	assert.Equal(t, []string{"c", "a", "d", "b"}, ids(records))

	nums := []closeio.Record{{"id": "x", "n": 10.0}, {"id": "y", "n": 9.0}, {"id": "z", "n": 100.0}}
	SortByField(nums, "n", false)
	assert.Equal(t, []string{"y", "x", "z"}, ids(nums))
}
