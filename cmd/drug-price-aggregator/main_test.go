package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/drug-price-aggregator/internal/lookup"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

func offline(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SOURCE_A_URL", "SOURCE_B_URL", "REGISTRY_API_URL", "DATABASE_URL", "ALERT_STORE_PATH", "REFERENCE_DATA_PATH"} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out, _, err := executeSplit(t, args...)
	return out, err
}

func executeSplit(t *testing.T, args ...string) (stdout, stderr *bytes.Buffer, err error) {
	t.Helper()
	root := newRootCmd()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	return stdout, stderr, root.Execute()
}

func TestSearchCommand(t *testing.T) {
	offline(t)
	out, err := execute(t, "search", "ibuprofen")
	require.NoError(t, err)
	var recs []model.CatalogRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "Berlin-Chemie", recs[0].Manufacturer)
}

func TestLookupCommandForce(t *testing.T) {
	offline(t)
	out, err := execute(t, "lookup", "--force", "Setirizin")
	require.NoError(t, err)
	var res lookup.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotNil(t, res.Drug)
	assert.True(t, res.Drug.Found)
	assert.Equal(t, []string{"reference"}, res.Drug.ContributingSources)
}

func TestNearestCommand(t *testing.T) {
	offline(t)
	out, err := execute(t, "nearest", "--lat", "41.2756", "--lon", "69.2034", "--radius", "1")
	require.NoError(t, err)
	var near []model.NearbyPharmacy
	require.NoError(t, json.Unmarshal(out.Bytes(), &near))
	require.Len(t, near, 1)
	assert.Equal(t, "Arzon Apteka", near[0].Pharmacy.Name)
}

func TestBadCategory(t *testing.T) {
	offline(t)
	_, err := execute(t, "search", "--category", "herbal", "x")
	assert.Error(t, err)
}

func TestRunExitCode(t *testing.T) {
	offline(t)
	assert.Equal(t, 1, run([]string{"nearest"}), "missing required flags")
}

func TestOneShotLogsStayOffStdout(t *testing.T) {
	offline(t)
	t.Setenv("LOG_LEVEL", "info")
	stdout, stderr, err := executeSplit(t, "lookup", "Paratsetamol")
	require.NoError(t, err)

	var res lookup.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res), "stdout must hold only the result: %s", stdout.String())
	assert.Equal(t, "Paratsetamol", res.Query)
	assert.Contains(t, stderr.String(), `"msg":"service_built"`)
}
