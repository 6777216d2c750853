package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/fakeclose"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportedLeads = `[
  {
    "id": "lead_src_a",
    "display_name": "Globex",
    "status_label": "Qualified",
    "date_created": "2023-01-02T03:04:05Z",
    "created_by": "user_2",
    "url": "https://globex.example",
    "custom": {"Sales Rep": "user_2", "Owner": "user_gone", "Tier": "Gold"},
    "contacts": [{"id": "cont_src_1", "lead_id": "lead_src_a", "name": "Hank Scorpio"}],
    "opportunities": [{
      "id": "oppo_src_1", "organization_id": "orga_src", "user_id": "user_gone",
      "contact_id": "cont_src_1", "status_id": "stat_src", "status_label": "Won",
      "status_type": "won", "value": 5000
    }],
    "tasks": [{"id": "task_src_1", "assigned_to": "user_2", "text": "Follow up"}],
    "activities": [
      {"_type": "Call", "id": "acti_src_1", "contact_id": "cont_src_1", "quality_info": {"mos": 4}, "direction": "outbound"},
      {"_type": "Email", "id": "acti_src_2", "subject": "Hello"},
      {"_type": "SMS", "id": "acti_src_3", "status": "outbox", "text": "Hi"}
    ]
  },
  {
    "id": "lead_src_b",
    "display_name": "Broken Co",
    "status_label": "Potential",
    "contacts": []
  }
]`

func importServer() *fakeclose.Server {
	return orgServer("user_admin").
		OnCreate("lead", func(_ string, payload closeio.Record, id string) (closeio.Record, error) {
			payload["id"] = id
			for i, c := range payload.Records("contacts") {
				c["id"] = fmt.Sprintf("%s_cont_%d", id, i)
			}
			return payload, nil
		}).
		FailWhen(func(c fakeclose.Call) error {
			if c.Method == http.MethodPost && c.Path == "lead" && c.Payload.String("name") == "Broken Co" {
				return fakeclose.BadRequest("lead is broken")
			}
			return nil
		})
}

func writeLeadsFile(t *testing.T) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "leads.json")
	require.NoError(t, os.WriteFile(file, []byte(exportedLeads), 0o600))
	return file
}

func TestImportLeads(t *testing.T) {
	srv := importServer()
	d := newDeps(t, srv, transfer.Confirmed(true))

	res, err := ImportLeads(context.Background(), d, ImportLeadsParams{File: writeLeadsFile(t)})

	require.NoError(t, err)
	require.Len(t, res.Imported, 1)
	require.Len(t, res.Errored, 1)
	assert.Equal(t, "lead_src_b", res.Errored[0].ID())

	leads := srv.Records("lead")
	require.Len(t, leads, 1)
	lead := leads[0]
	newID := lead.ID()
	assert.Equal(t, res.Imported[0], newID)
	assert.Equal(t, "Globex", lead.String("name"))
	assert.Equal(t, "Qualified", lead.String("status"))
	assert.Equal(t, closeio.Record{"Sales Rep": "user_2", "Tier": "Gold", OriginalLeadIDField: "lead_src_a"}, lead.Map("custom"))
	contacts := lead.Records("contacts")
	require.Len(t, contacts, 1)
	assert.Equal(t, closeio.Record{"id": newID + "_cont_0", "name": "Hank Scorpio"}, contacts[0])

	statuses := srv.Records("status/lead")
	require.Len(t, statuses, 1)
	assert.Equal(t, "Qualified", statuses[0].String("label"))
	oppStatuses := srv.Records("status/opportunity")
	require.Len(t, oppStatuses, 1)
	assert.Equal(t, "won", oppStatuses[0].String("type"))

	opps := srv.Records("opportunity")
	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, newID+"_cont_0", opp.String("contact_id"))
	assert.Equal(t, "user_admin", opp.String("user_id"))
	assert.Equal(t, "Won", opp.String("status"))
	assert.Equal(t, newID, opp.String("lead_id"))
	assert.NotContains(t, opp, "status_id")
	assert.NotContains(t, opp, "status_label")
	assert.NotContains(t, opp, "organization_id")

	tasks := srv.Records("task")
	require.Len(t, tasks, 1)
	assert.Equal(t, "user_2", tasks[0].String("assigned_to"))
	completed := srv.Calls(http.MethodGet, "activity/task_completed")
	require.Len(t, completed, 1)
	assert.Equal(t, newID, completed[0].Params.Get("lead_id"))

	calls := srv.Records("activity/call")
	require.Len(t, calls, 1)
	assert.Equal(t, "External", calls[0].String("source"))
	assert.NotContains(t, calls[0], "quality_info")
	assert.NotContains(t, calls[0], "_type")
	assert.Equal(t, newID+"_cont_0", calls[0].String("contact_id"))
	sms := srv.Records("activity/sms")
	require.Len(t, sms, 1)
	assert.Equal(t, "draft", sms[0].String("status"))
	assert.Empty(t, srv.Records("activity/email"))

	b, err := os.ReadFile(res.ErrorFile)
	require.NoError(t, err)
	var errored []closeio.Record
	require.NoError(t, json.Unmarshal(b, &errored))
	require.Len(t, errored, 1)
	assert.Equal(t, "lead_src_b", errored[0].ID())
	assert.Equal(t, filepath.Join(d.OutDir, "AcmeInc Errored Leads from JSON Import.json"), res.ErrorFile)

	counts := d.Writer.Summary().Counts()
	assert.Equal(t, 1, counts.Errored)
	// 2 statuses, 1 lead, 1 opportunity, 1 task and 2 activities.
	assert.Equal(t, 7, counts.Created)
}

func TestImportLeads_DryRun(t *testing.T) {
	srv := importServer()
	d := newDeps(t, srv)

	res, err := ImportLeads(context.Background(), d, ImportLeadsParams{File: writeLeadsFile(t)})

	require.NoError(t, err)
	assert.Len(t, res.Imported, 2)
	assert.Empty(t, srv.Calls(http.MethodPost, ""))
	assert.Empty(t, srv.Calls(http.MethodGet, "activity/task_completed"))
	// 2 statuses, 2 leads, 1 opportunity, 1 task and 2 activities.
	assert.Equal(t, transfer.Counts{Created: 8}, d.Writer.Summary().Counts())

	// Every job of the live run is counted as created in the dry run.
	live := newDeps(t, importServer(), transfer.Confirmed(true))
	_, err = ImportLeads(context.Background(), live, ImportLeadsParams{File: writeLeadsFile(t)})
	require.NoError(t, err)
	liveCounts := live.Writer.Summary().Counts()
	assert.Equal(t, liveCounts.Created+liveCounts.Errored, d.Writer.Summary().Counts().Created)
}

func TestImportLeads_BadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "leads.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"not": "a list"`), 0o600))

	_, err := ImportLeads(context.Background(), newDeps(t, importServer()), ImportLeadsParams{File: file})

	assert.Error(t, err)
}
