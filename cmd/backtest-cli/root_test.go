package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyagents/internal/domain"
	"polyagents/internal/store"
)

func seed(t *testing.T) (dataDir, planPath string) {
	t.Helper()
	dataDir = t.TempDir()
	day0 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	var bars []domain.Bar
	for i := range 80 {
		bars = append(bars,
			domain.Bar{Symbol: "BTC", Timestamp: day0.AddDate(0, 0, i), Close: 100 + float64(i)},
			domain.Bar{Symbol: "ETH", Timestamp: day0.AddDate(0, 0, i), Close: 50},
		)
	}
	require.NoError(t, store.NewParquetStore(dataDir).WriteBars(context.Background(), "crypto", bars))

	planPath = filepath.Join(dataDir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(`
planner: fixed
universe: [BTC, ETH]
weighting:
  scheme: fixed
  weights: {BTC: 0.5, ETH: 0.5}
rebalance:
  cadence: weekly
`), 0o644))
	return dataDir, planPath
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestRunListShow(t *testing.T) {
	dataDir, planPath := seed(t)
	common := []string{"--data-dir", dataDir, "--sqlite", filepath.Join(dataDir, "runs.db")}
	outFile := filepath.Join(dataDir, "run.json")

	got := execute(t, append([]string{"run", "--plan", planPath, "--end", "2024-03-24", "--out", outFile}, common...)...)
	assert.Contains(t, got, "planner")
	assert.Contains(t, got, "fixed")
	assert.Contains(t, got, "80 points")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var run domain.Run
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Len(t, run.Curve, 80)

	list := execute(t, append([]string{"runs", "list"}, common...)...)
	assert.Contains(t, list, run.ID)

	show := execute(t, append([]string{"runs", "show", run.ID, "--json"}, common...)...)
	var shown domain.Run
	require.NoError(t, json.Unmarshal([]byte(show), &shown))
	assert.Equal(t, run.ID, shown.ID)
	assert.Equal(t, run.Stats, shown.Stats)
}

func TestRunNotEnoughData(t *testing.T) {
	dataDir, planPath := seed(t)

	got := execute(t, "run", "--plan", planPath, "--end", "2024-02-01",
		"--data-dir", dataDir, "--sqlite", filepath.Join(dataDir, "runs.db"))
	assert.Contains(t, got, "not enough data")
}

func TestPlannersAndVersion(t *testing.T) {
	dir := t.TempDir()
	got := execute(t, "planners", "--data-dir", dir, "--sqlite", filepath.Join(dir, "runs.db"))
	names := strings.Fields(got)
	assert.Contains(t, names, "fixed")
	assert.Contains(t, names, "rules")

	assert.Equal(t, "backtest-cli "+version+"\n", execute(t, "version"))
}

func TestRunRequiresPlan(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	assert.Error(t, root.Execute())
}
