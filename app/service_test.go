package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stationctl/config"
	"github.com/kilianp07/stationctl/core/allocation"
	"github.com/kilianp07/stationctl/core/factory"
	"github.com/kilianp07/stationctl/core/scoring"
)

const master = `
- TRAIN NO: 12345
  TRAIN NAME: Howrah Express
  LENGTH: Short
  DIRECTION: UP
  PLATFORM NO: "2"
  ARRIVAL AT KGP: "10:00"
  DEPARTURE FROM KGP: "10:05"
- TRAIN NO: 18001
  TRAIN NAME: Dhauli Express
  LENGTH: Long
  DIRECTION: DOWN
  ARRIVAL AT KGP: "06:40"
  DEPARTURE FROM KGP: "06:45"
`

const matrix = "Line,P1-3,P2-4,P5\n" +
	"KGP-HWH,\"1 (1,3)\",\"2 (2,4) 1 (6)\",--NA--\n" +
	"HIJ Freight,,,\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	trainsPath := filepath.Join(dir, "trains.yaml")
	matrixPath := filepath.Join(dir, "matrix.csv")
	require.NoError(t, os.WriteFile(trainsPath, []byte(master), 0o644))
	require.NoError(t, os.WriteFile(matrixPath, []byte(matrix), 0o644))

	cfg := &config.Config{}
	cfg.Station.TrainsPath = trainsPath
	cfg.Station.MatrixPath = matrixPath
	cfg.Store = factory.ModuleConfig{Type: "json", Conf: map[string]any{"path": filepath.Join(dir, "state.json")}}
	cfg.Audit.Backend = "jsonl"
	cfg.Audit.Path = filepath.Join(dir, "operations.jsonl")
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewEngine(t *testing.T) {
	cfg := testConfig(t)
	e, err := NewEngine(cfg.Station)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"KGP-HWH", "HIJ Freight"}, e.Matrix().Lines())
	assert.True(t, e.IsLineAgnostic(scoring.DefaultLineAgnostic[0]))

	cfg.Station.MatrixPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err = NewEngine(cfg.Station)
	assert.Error(t, err)
}

func TestOpenTrains(t *testing.T) {
	cfg := testConfig(t)
	d, err := OpenTrains(context.Background(), cfg.Station, nil)
	require.NoError(t, err)
	ts, err := d.ListTrains(context.Background())
	require.NoError(t, err)
	assert.Len(t, ts, 2)

	cfg.Station.TrainsPath = ""
	d, err = OpenTrains(context.Background(), cfg.Station, nil)
	require.NoError(t, err)
	ts, err = d.ListTrains(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestServiceEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	svc, err := New(ctx, cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	post := func(path string, body any) *http.Response {
		t.Helper()
		b, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
		require.NoError(t, err)
		return resp
	}

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = post("/api/platform-suggestions", allocation.RankRequest{TrainID: "12345", IncomingLine: "KGP-HWH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ranked struct {
		Suggestions []scoring.Ranking `json:"suggestions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ranked))
	resp.Body.Close()
	require.NotEmpty(t, ranked.Suggestions)

	resp = post("/api/assign-platform", allocation.AssignRequest{TrainID: "12345", ResourceIDs: []string{ranked.Suggestions[0].ResourceID}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, svc.Close())

	// state survives a restart through the json store
	svc2, err := New(ctx, cfg)
	require.NoError(t, err)
	defer svc2.Close()
	held := 0
	for _, r := range svc2.Controller.CurrentState().Resources {
		if r.Occupant != nil && r.Occupant.TrainID == "12345" {
			held++
		}
	}
	assert.Equal(t, 1, held)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = factory.ModuleConfig{Type: "mongo"}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
