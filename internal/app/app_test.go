package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/shutter/internal/capture"
	"github.com/hpungsan/shutter/internal/config"
	"github.com/hpungsan/shutter/internal/device"
)

func testConfig(endpoint string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SearchEndpoint = endpoint
	cfg.SearchDebounceMS = 5
	cfg.SwitchCooldownMS = 5
	cfg.LookupRPS = 0
	return cfg
}

func openTestApp(t *testing.T, baseDir, endpoint string) *App {
	t.Helper()
	cfg := testConfig(endpoint)
	cfg.MediaDir = filepath.Join(baseDir, "media")
	a, err := Open(t.Context(), baseDir, Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return a
}

func directoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"users":[{"id":1,"firstName":"Q","lastName":"R","username":%q}]}`, r.URL.Query().Get("q"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpen_LoadsConfigFromBaseDir(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "config.json"),
		[]byte(`{"search_endpoint":"http://127.0.0.1:1/search","log_level":"error"}`), 0600))

	a, err := Open(t.Context(), baseDir, Options{})
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "http://127.0.0.1:1/search", a.Directory.Endpoint())
	require.Equal(t, filepath.Join(baseDir, "media"), a.Config.MediaDir)
	require.FileExists(t, filepath.Join(baseDir, "shutter.db"))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SearchEndpoint = "ftp://nope"
	_, err := Open(t.Context(), t.TempDir(), Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
}

func TestHistorySurvivesReopen(t *testing.T) {
	baseDir := t.TempDir()
	srv := directoryServer(t)

	a := openTestApp(t, baseDir, srv.URL)
	users, err := a.Search.Lookup(t.Context(), "@sophia")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "sophia", users[0].Username)
	require.NoError(t, a.Close())

	b := openTestApp(t, baseDir, srv.URL)
	defer b.Close()
	require.Equal(t, []string{"sophia"}, b.Search.History())
}

func TestDebouncedSearchThroughApp(t *testing.T) {
	srv := directoryServer(t)
	a := openTestApp(t, t.TempDir(), srv.URL)
	defer a.Close()

	a.Search.SetQueryText("mia")
	require.Eventually(t, func() bool {
		snap := a.Search.Snapshot()
		return snap.HasSearched && !snap.Loading && len(snap.History) == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap := a.Search.Snapshot()
	require.Len(t, snap.Results, 1)
	require.Equal(t, []string{"mia"}, snap.History)
}

func TestCaptureCommitThroughApp(t *testing.T) {
	baseDir := t.TempDir()
	a := openTestApp(t, baseDir, "http://127.0.0.1:1/search")
	defer a.Close()

	src := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0600))

	c := a.NewCapture(a.FSProvider(src), device.FacingBack)
	require.NoError(t, c.Initialize(t.Context()))

	draft, err := c.CapturePhoto(t.Context())
	require.NoError(t, err)
	require.FileExists(t, draft.Path)

	rec, err := c.CommitPreview(t.Context())
	require.NoError(t, err)
	require.Equal(t, capture.StateIdle, c.State())

	saved, err := a.Media.Load(t.Context())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.Equal(t, rec.Path, saved[0].Path)
}

func TestCaptureDeniedByConfig(t *testing.T) {
	baseDir := t.TempDir()
	cfg := testConfig("http://127.0.0.1:1/search")
	cfg.CameraPermission = "denied"
	cfg.MediaDir = filepath.Join(baseDir, "media")
	a, err := Open(t.Context(), baseDir, Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer a.Close()

	c := a.NewCapture(a.FSProvider(""), device.FacingBack)
	require.Error(t, c.Initialize(t.Context()))
	require.Equal(t, capture.StatePermissionDenied, c.State())
}

func TestClose_Idempotent(t *testing.T) {
	a := openTestApp(t, t.TempDir(), "http://127.0.0.1:1/search")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
