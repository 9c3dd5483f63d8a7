package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/selftest"
)

func init() {
	monitoring.SetLogger(nil)
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n == 1
}

func TestNewDBMigrates(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	for _, table := range []string{"predictions", "motor_actions", "selftest_runs"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	require.NoError(t, db.MigrateUp(), "already at latest")
	require.NoError(t, db.MigrateDown())
	assert.False(t, tableExists(t, db, "predictions"))
	require.NoError(t, db.MigrateUp())
	assert.True(t, tableExists(t, db, "predictions"))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordPrediction(&Prediction{SessionID: "s", Features: []float64{1}, CreatedAt: time.Unix(1, 0)}))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.RecentPredictions(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, path, db.Path())
}

func TestPredictions(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		p := &Prediction{
			SessionID: "session-a",
			FrameSeq:  uint64(100 + i),
			Label:     i % 4,
			Score:     float64(i) / 10,
			Features:  []float64{float64(i), 0.5, -1.25},
			Elapsed:   time.Duration(i) * time.Millisecond,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, db.RecordPrediction(p))
		assert.Equal(t, int64(i+1), p.ID)
	}

	got, err := db.RecentPredictions(2)
	require.NoError(t, err)
	want := []Prediction{
		{ID: 5, SessionID: "session-a", FrameSeq: 104, Label: 0, Score: 0.4, Features: []float64{4, 0.5, -1.25}, Elapsed: 4 * time.Millisecond, CreatedAt: base.Add(4 * time.Second)},
		{ID: 4, SessionID: "session-a", FrameSeq: 103, Label: 3, Score: 0.3, Features: []float64{3, 0.5, -1.25}, Elapsed: 3 * time.Millisecond, CreatedAt: base.Add(3 * time.Second)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentPredictions mismatch (-want +got):\n%s", diff)
	}
}

func TestMotorActions(t *testing.T) {
	db := setupTestDB(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := actuate.Output{Action: actuate.RotateLeft, Speed: 600}
	a := &MotorAction{SessionID: "s1", Command: "Predicted(2)", Output: out, Wheels: out.Wheels(), CreatedAt: at}
	require.NoError(t, db.RecordMotorAction(a))

	stop := &MotorAction{SessionID: "s1", Command: "Predicted(9)", CreatedAt: at.Add(time.Second)}
	require.NoError(t, db.RecordMotorAction(stop))

	got, err := db.RecentMotorActions(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, actuate.Stop, got[0].Output.Action)
	assert.Equal(t, *a, got[1])
}

func TestSelftestRuns(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	report := &selftest.Report{
		ID:        uuid.New(),
		StartedAt: started,
		Elapsed:   1500 * time.Millisecond,
		Checks: []selftest.Check{
			{Name: "impulse", Size: 16, Route: "direct", Passed: true},
			{Name: "round-trip", Pattern: "step", Size: 16, Route: "buffer", RMSE: 2e-7, Passed: true,
				Peaks: []fft.Peak{{KY: 0, KX: 2, Mag: 128}}},
			{Name: "full-size-round-trip", Size: 256, Route: "external", Detail: "injected"},
		},
		RoundTrip: selftest.Stats{Count: 1, Mean: 2e-7, Min: 2e-7, Max: 2e-7},
	}
	require.NoError(t, db.RecordSelftest(report))

	runs, err := db.SelftestRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, SelftestRun{
		RunID:     report.ID.String(),
		StartedAt: started,
		Elapsed:   1500 * time.Millisecond,
		Checks:    3,
		Failed:    1,
		RMSEMean:  2e-7,
		RMSEMax:   2e-7,
	}, runs[0])

	run, ok, err := db.GetSelftestRun(report.ID.String())
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(report, run.Report); diff != "" {
		t.Errorf("stored report mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = db.GetSelftestRun(uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/backup", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}

func TestServeBackup(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.RecordPrediction(&Prediction{SessionID: "s", Features: []float64{}, CreatedAt: time.Now()}))

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}
