package sinkrt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-labs/flowcore/pkg/record"
)

func sampleRecord() *record.Record {
	r := record.New("nginx/access")
	r.Append(record.NewField("host", "chars", record.Chars("web-1")))
	r.Append(record.NewField("status", "digit", record.Digit(200)))
	r.Append(record.NewField("__scratch", "chars", record.Ignore))
	return r
}

func TestEncodeJSON(t *testing.T) {
	out, err := Encode(FormatJSON, []*record.Record{sampleRecord()})
	require.NoError(t, err)
	require.Len(t, out, 1)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(out[0], &m))
	assert.Equal(t, "nginx/access", m["rule_id"])
	assert.Equal(t, "web-1", m["host"])
	assert.Equal(t, float64(200), m["status"])
	_, hasScratch := m["__scratch"]
	assert.False(t, hasScratch, "ignored field must be omitted from JSON output")
}

func TestEncodeKVSkipsIgnored(t *testing.T) {
	out, err := Encode(FormatKV, []*record.Record{sampleRecord()})
	require.NoError(t, err)
	assert.Equal(t, "host=web-1 status=200", string(out[0]))
}

func TestEncodeCSVEscapesCommas(t *testing.T) {
	r := record.New("r")
	r.Append(record.NewField("a", "chars", record.Chars("has,comma")))
	r.Append(record.NewField("b", "chars", record.Chars("plain")))

	out, err := Encode(FormatCSV, []*record.Record{r})
	require.NoError(t, err)
	assert.Equal(t, `"has,comma",plain`, string(out[0]))
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := Encode(Format("bogus"), []*record.Record{sampleRecord()})
	assert.Error(t, err)
}

func TestEncodeShowIncludesRuleIDAndTypes(t *testing.T) {
	out, err := Encode(FormatShow, []*record.Record{sampleRecord()})
	require.NoError(t, err)
	assert.Contains(t, string(out[0]), "[nginx/access]")
	assert.Contains(t, string(out[0]), "status=200(digit)")
}
