package transfer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/fakeclose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type orgFixture struct {
	id            string
	leadStatuses  []closeio.Record
	pipelines     []closeio.Record
	activityTypes []closeio.Record
	fields        map[string][]closeio.Record
	templates     []closeio.Record
	sequences     []closeio.Record
}

func (o orgFixture) server() *fakeclose.Server {
	srv := fakeclose.New().
		SetDoc("me", closeio.Record{"organizations": []any{map[string]any{"id": o.id, "name": o.id}}}).
		SetDoc("organization/"+o.id, closeio.Record{
			"lead_statuses": toAny(o.leadStatuses),
			"pipelines":     toAny(o.pipelines),
		}).
		Seed("custom_activity", o.activityTypes...).
		Seed("email_template", o.templates...).
		Seed("sequence", o.sequences...)

	schemas := append([]string(nil), BuiltInSchemas...)
	for _, t := range o.activityTypes {
		schemas = append(schemas, "activity/"+t.ID())
	}
	for _, s := range schemas {
		srv.SetDoc("custom_field_schema/"+s, closeio.Record{"fields": toAny(o.fields[s])})
	}
	return srv
}

func toAny(records []closeio.Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = map[string]any(r.Clone())
	}
	return out
}

func sourceOrg() orgFixture {
	return orgFixture{
		id: "orga_src",
		leadStatuses: []closeio.Record{
			{"id": "stat_src_potential", "label": "Potential"},
			{"id": "stat_src_won", "label": "Won"},
		},
		pipelines: []closeio.Record{
			{"id": "pipe_src_sales", "name": "Sales", "statuses": []any{
				map[string]any{"id": "stat_src_demo", "label": "Demo"},
			}},
		},
		activityTypes: []closeio.Record{{"id": "actitype_src_meeting", "name": "Meeting"}},
		fields: map[string][]closeio.Record{
			"lead":                          {{"id": "cf_src_source", "name": "Source"}},
			"contact":                       {{"id": "cf_src_contact_source", "name": "Source"}},
			"activity/actitype_src_meeting": {{"id": "cf_src_outcome", "name": "Outcome"}},
		},
		templates: []closeio.Record{
			{"id": "tmpl_src_intro", "name": "Intro"},
			{"id": "tmpl_src_only", "name": "Only in source"},
		},
		sequences: []closeio.Record{{"id": "seq_src_onboard", "name": "Onboarding"}},
	}
}

func destOrg() orgFixture {
	return orgFixture{
		id: "orga_dst",
		leadStatuses: []closeio.Record{
			{"id": "stat_dst_won", "label": "Won"},
			{"id": "stat_dst_potential", "label": "Potential"},
		},
		pipelines: []closeio.Record{
			{"id": "pipe_dst_sales", "name": "Sales", "statuses": []any{
				map[string]any{"id": "stat_dst_demo", "label": "Demo"},
			}},
		},
		activityTypes: []closeio.Record{{"id": "actitype_dst_meeting", "name": "Meeting"}},
		fields: map[string][]closeio.Record{
			"lead":                          {{"id": "cf_dst_source", "name": "Source"}},
			"activity/actitype_dst_meeting": {{"id": "cf_dst_outcome", "name": "Outcome"}},
		},
		templates: []closeio.Record{
			{"id": "tmpl_dst_intro", "name": "Intro"},
			{"id": "tmpl_dst_intro_copy", "name": "Intro"},
		},
		sequences: []closeio.Record{{"id": "seq_dst_onboard", "name": "Onboarding"}},
	}
}

func newTestBuilder(t *testing.T, from, to *fakeclose.Server) *Builder {
	return NewBuilder(NewCatalog(from, nil), NewCatalog(to, nil), zaptest.NewLogger(t))
}

func TestBuilder_Build(t *testing.T) {
	tests := []struct {
		name  string
		kinds []ObjectKind
		want  Mapping
	}{
		{
			name:  "statuses  matched by label across lead and opportunity",
			kinds: []ObjectKind{KindStatus},
			want: Mapping{
				"stat_src_potential": "stat_dst_potential",
				"stat_src_won":       "stat_dst_won",
				"stat_src_demo":      "stat_dst_demo",
			},
		},
		{
			name:  "custom fields  activity type fields matched through type mapping",
			kinds: []ObjectKind{KindCustomField},
			want: Mapping{
				"actitype_src_meeting": "actitype_dst_meeting",
				"cf_src_source":        "cf_dst_source",
				"cf_src_outcome":       "cf_dst_outcome",
			},
		},
		{
			name:  "templates  first destination match wins",
			kinds: []ObjectKind{KindEmailTemplate},
			want:  Mapping{"tmpl_src_intro": "tmpl_dst_intro"},
		},
		{
			name:  "pipelines and sequences  matched by name",
			kinds: []ObjectKind{KindPipeline, KindSequence},
			want: Mapping{
				"pipe_src_sales":  "pipe_dst_sales",
				"seq_src_onboard": "seq_dst_onboard",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t, sourceOrg().server(), destOrg().server())

			got, err := b.Build(context.Background(), tt.kinds...)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuilder_Build_SameNameDifferentSchema(t *testing.T) {
	b := newTestBuilder(t, sourceOrg().server(), destOrg().server())

	got, err := b.Build(context.Background(), KindCustomField)

	require.NoError(t, err)
	_, ok := got["cf_src_contact_source"]
	assert.False(t, ok, "contact field must not match the lead field of the same name")
}

func TestBuilder_Build_Idempotent(t *testing.T) {
	from, to := sourceOrg().server(), destOrg().server()
	b := newTestBuilder(t, from, to)

	first, err := b.Build(context.Background(), AllKinds()...)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), AllKinds()...)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuilder_Build_FetchFailureAborts(t *testing.T) {
	to := destOrg().server()
	to.FailWhen(func(c fakeclose.Call) error {
		if c.Path == "sequence" {
			return errors.New("connection refused")
		}
		return nil
	})
	b := newTestBuilder(t, sourceOrg().server(), to)

	got, err := b.Build(context.Background(), KindStatus, KindSequence)

	assert.ErrorContains(t, err, "destination sequence")
	assert.Nil(t, got)
}

func TestMapping_Resolve(t *testing.T) {
	m := Mapping{"a": "b"}
	assert.Equal(t, "b", m.Resolve("a"))
	assert.Equal(t, "c", m.Resolve("c"))

	merged := m.With(Mapping{"a": "z", "x": "y"})
	assert.Equal(t, Mapping{"a": "z", "x": "y"}, merged)
	assert.Equal(t, Mapping{"a": "b"}, m)
}

func TestLazyMapping_BuildsOnce(t *testing.T) {
	var calls atomic.Int32
	lm := NewLazyMapping(func(ctx context.Context) (Mapping, error) {
		calls.Add(1)
		return Mapping{"a": "b"}, nil
	})
	assert.False(t, lm.Built())

	for i := 0; i < 3; i++ {
		got, err := lm.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Mapping{"a": "b"}, got)
	}
	assert.True(t, lm.Built())
	assert.Equal(t, int32(1), calls.Load())
}
