package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScenarioList(t *testing.T) {
	out, err := execute(t, "scenario", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "inbound-approval")
	assert.Contains(t, out, "return-disposal")
}

func TestScenarioRun(t *testing.T) {
	// GIVEN: the inbound-approval scenario
	// WHEN: running it with JSON output
	// THEN: one DONE inbound request is printed
	out, err := execute(t, "scenario", "run", "inbound-approval", "--json")
	require.NoError(t, err)

	var rows []requestRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "INBOUND", rows[0].Kind)
	assert.Equal(t, "DONE", rows[0].Status)
}

func TestScenarioRun_Unknown(t *testing.T) {
	_, err := execute(t, "scenario", "run", "nope")
	assert.Error(t, err)
}

func TestGraphShow(t *testing.T) {
	out, err := execute(t, "graph", "show", "outbound", "--json")
	require.NoError(t, err)

	var rows []edgeRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.NotEmpty(t, rows)
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		assert.True(t, prev.From < cur.From || (prev.From == cur.From && prev.To <= cur.To), "rows not sorted at %d", i)
	}

	var terminal bool
	for _, r := range rows {
		if r.To == "COMPLETED" {
			terminal = r.Terminal
		}
	}
	assert.True(t, terminal, "COMPLETED should be marked terminal")
}

func TestGraphShow_UnknownKind(t *testing.T) {
	_, err := execute(t, "graph", "show", "transfer")
	assert.Error(t, err)
}

func TestKPI(t *testing.T) {
	// GIVEN: the happy outbound scenario
	// WHEN: taking the daily snapshot at the scenario start
	// THEN: the single order counts as completed
	out, err := execute(t, "kpi", "outbound", "--scenario", "outbound-happy", "--json")
	require.NoError(t, err)

	var doc snapshotJSON
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "DAILY", doc.Period)
	assert.Equal(t, "1", doc.Metrics["total_requests"])
	assert.Equal(t, "100", doc.Metrics["completion_rate"])
}

func TestKPI_Table(t *testing.T) {
	out, err := execute(t, "kpi", "returns", "--period", "weekly")
	require.NoError(t, err)
	assert.Contains(t, out, "total_requests")
	assert.Contains(t, out, "WEEKLY")
}

func TestKPI_BadPeriod(t *testing.T) {
	_, err := execute(t, "kpi", "inbound", "--period", "HOURLY")
	assert.Error(t, err)
}

func TestBadClockStart(t *testing.T) {
	_, err := execute(t, "scenario", "run", "inbound-approval", "--at", "yesterday")
	assert.Error(t, err)
}

func TestConfigShow_Defaults(t *testing.T) {
	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "server:")
	assert.Contains(t, out, "store:")
}

func TestPolicyCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inbound":{"location_capacity":40}}`), 0o644))

	out, err := execute(t, "policy", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "location_capacity")
	assert.Contains(t, out, "40")
}

func TestPolicyCheck_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inbound":`), 0o644))

	_, err := execute(t, "policy", "check", path)
	assert.Error(t, err)
}
