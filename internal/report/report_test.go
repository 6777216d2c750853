package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callRow struct {
	ID       string  `csv:"id" json:"id"`
	LeadName string  `csv:"lead_name" json:"lead_name"`
	Duration float64 `csv:"duration" json:"duration"`
}

func TestSaveRecords(t *testing.T) {
	rows := []callRow{{ID: "acti_1", LeadName: "Acme", Duration: 12}}
	dir := t.TempDir()

	csvFile := filepath.Join(dir, "calls.csv")
	require.NoError(t, SaveRecords(csvFile, rows))
	b, err := os.ReadFile(csvFile)
	require.NoError(t, err)
	assert.Equal(t, "id,lead_name,duration\nacti_1,Acme,12\n", string(b))

	jsonFile := filepath.Join(dir, "calls.json")
	require.NoError(t, SaveRecords(jsonFile, rows))
	b, err = os.ReadFile(jsonFile)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"acti_1","lead_name":"Acme","duration":12}]`, string(b))

	assert.ErrorIs(t, SaveRecords(filepath.Join(dir, "calls.xlsx"), rows), ErrUnsupportedFormat)
}

func TestReadTable(t *testing.T) {
	in := "company,custom.Tags,lead_id\nAcme,\"a,b\",\nGlobex,c,lead_2\n"

	got, err := ReadTable(strings.NewReader(in))

	require.NoError(t, err)
	assert.Equal(t, []string{"company", "custom.Tags", "lead_id"}, got.Header)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, Row{Line: 2, Values: map[string]string{"company": "Acme", "custom.Tags": "a,b", "lead_id": ""}}, got.Rows[0])
	assert.Equal(t, 3, got.Rows[1].Line)
	assert.Equal(t, "lead_2", got.Rows[1].Get("lead_id"))
}

func TestReadTable_Errors(t *testing.T) {
	_, err := ReadTable(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadTable(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestWriteErrorRows(t *testing.T) {
	header := []string{"company", "url"}
	rows := []ErrorRow{
		{Row: Row{Line: 3, Values: map[string]string{"url": "nope", "company": "Acme"}}, Error: "invalid url"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteErrorRows(&buf, header, rows))

	assert.Equal(t, "company,url,error\nAcme,nope,invalid url\n", buf.String())
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "AcmeCo", SafeFileName("Acme/Co"))
}
