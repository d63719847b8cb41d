package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/shutter/internal/app"
	"github.com/hpungsan/shutter/internal/config"
	"github.com/hpungsan/shutter/internal/directory"
	"github.com/hpungsan/shutter/internal/media"
)

const directoryJSON = `{"users":[
	{"id":1,"firstName":"Emily","lastName":"Johnson","username":"emilys","gender":"female","image":"https://dummyjson.com/icon/emilys/128"},
	{"id":2,"firstName":"Michael","lastName":"Williams","username":"michaelw","gender":"male","image":"https://dummyjson.com/icon/michaelw/128"}
]}`

// directoryServer answers every query with two users, or 502 when q is "fail".
func directoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "fail" {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, directoryJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupTest(t *testing.T) (*app.App, http.Handler) {
	t.Helper()
	baseDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SearchEndpoint = directoryServer(t).URL
	cfg.LookupRPS = 0
	cfg.MediaDir = filepath.Join(baseDir, "media")

	a, err := app.Open(context.Background(), baseDir, app.Options{Config: cfg, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	srv, err := NewServer(a, "test", "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return a, srv.Handler
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func seedMedia(t *testing.T, a *app.App, drafts ...media.Draft) {
	t.Helper()
	for _, d := range drafts {
		if _, err := a.Media.Commit(context.Background(), d); err != nil {
			t.Fatalf("seed media %q: %v", d.Path, err)
		}
	}
}

// --- Routing ---

func TestRootRedirectsToMedia(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/media" {
		t.Errorf("Location = %q, want /media", loc)
	}
}

func TestSecurityHeaders(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/media", nil))
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "img-src 'self' https:") {
		t.Errorf("CSP = %q, want remote https images allowed", csp)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", rec.Header().Get("X-Frame-Options"))
	}
}

func TestStaticFiles(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := setupTest(t)

	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=emily", nil))

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `shutter_lookups_total{outcome="ok"} 1`) {
		t.Errorf("metrics missing lookup counter:\n%s", rec.Body.String())
	}
}

// --- HandleMedia ---

func TestHandleMedia_Empty(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/media", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No saved media yet") {
		t.Errorf("body missing empty state")
	}
}

func TestHandleMedia_NewestFirstAndFilter(t *testing.T) {
	a, h := setupTest(t)
	seedMedia(t, a,
		media.Draft{Path: "/tmp/IMG_1.jpg", Kind: media.KindPhoto},
		media.Draft{Path: "/tmp/VID_2.mp4", Kind: media.KindVideo},
	)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/media", nil))
	body := rec.Body.String()
	if strings.Index(body, "VID_2.mp4") > strings.Index(body, "IMG_1.jpg") {
		t.Errorf("expected newest record first")
	}

	req := httptest.NewRequest(http.MethodGet, "/media?type=photo", nil)
	req.Header.Set("Accept", "application/json")
	rec = do(t, h, req)

	var resp struct {
		Items []media.Record `json:"items"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Kind != media.KindPhoto {
		t.Errorf("items = %+v, want one photo", resp.Items)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestHandleMedia_BadType(t *testing.T) {
	_, h := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/media?type=gif", nil)
	req.Header.Set("Accept", "application/json")
	rec := do(t, h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"]["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %v, want INVALID_REQUEST", resp["error"]["code"])
	}
}

// --- HandleSearch ---

func TestHandleSearch_NoQueryShowsForm(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/search", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `name="q"`) {
		t.Errorf("body missing search input")
	}
	if strings.Contains(body, "No users found") {
		t.Errorf("empty query should not report a search")
	}
}

func TestHandleSearch_ResultsAndHistory(t *testing.T) {
	a, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=%40emily", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Emily Johnson") || !strings.Contains(body, "@emilys") {
		t.Errorf("body missing user row")
	}
	if !strings.Contains(body, "/users/1?q=emily") {
		t.Errorf("body missing detail link")
	}

	if got := a.Search.History(); len(got) != 1 || got[0] != "emily" {
		t.Errorf("History() = %v, want [emily]", got)
	}
}

func TestHandleSearch_PartialForLiveSearch(t *testing.T) {
	_, h := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/search?q=emily", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "results")
	rec := do(t, h, req)

	body := rec.Body.String()
	if strings.Contains(body, "<html") || strings.Contains(body, `name="q"`) {
		t.Errorf("partial response should contain only the results block")
	}
	if !strings.Contains(body, "Emily Johnson") {
		t.Errorf("partial response missing results")
	}
}

func TestHandleSearch_FailureKeepsPreviousResults(t *testing.T) {
	_, h := setupTest(t)

	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=emily", nil))

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=fail", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "directory lookup failed") {
		t.Errorf("body missing failure message")
	}
	if !strings.Contains(body, "Emily Johnson") {
		t.Errorf("previous results should stay visible")
	}
}

func TestHandleSearch_JSONFailure(t *testing.T) {
	_, h := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/search?q=fail", nil)
	req.Header.Set("Accept", "application/json")
	rec := do(t, h, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

// --- HandleUser ---

func TestHandleUser_FromResults(t *testing.T) {
	_, h := setupTest(t)
	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=emily", nil))

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/users/2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h3>Michael Williams</h3>") {
		t.Errorf("card missing heading:\n%s", body)
	}
	if !strings.Contains(body, "@michaelw") {
		t.Errorf("card missing handle")
	}
}

func TestHandleUser_LooksUpWithQuery(t *testing.T) {
	_, h := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/users/1?q=emily", nil)
	req.Header.Set("Accept", "application/json")
	rec := do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var user struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Username != "emilys" {
		t.Errorf("username = %q, want emilys", user.Username)
	}
}

func TestHandleUser_NotFound(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/users/99?q=emily", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "user 99 not found") {
		t.Errorf("body missing message")
	}
}

func TestHandleUser_BadID(t *testing.T) {
	_, h := setupTest(t)

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/users/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- History ---

func TestHandleHistoryRemove(t *testing.T) {
	a, h := setupTest(t)
	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=emily", nil))
	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=michael", nil))

	rec := do(t, h, postForm("/history/remove", url.Values{"entry": {"emily"}}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if got := a.Search.History(); len(got) != 1 || got[0] != "michael" {
		t.Errorf("History() = %v, want [michael]", got)
	}
}

func TestHandleHistoryClear_RequiresConfirm(t *testing.T) {
	a, h := setupTest(t)
	do(t, h, httptest.NewRequest(http.MethodGet, "/search?q=emily", nil))

	rec := do(t, h, postForm("/history/clear", url.Values{}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(a.Search.History()) != 1 {
		t.Errorf("history cleared without confirmation")
	}

	req := postForm("/history/clear", url.Values{"confirm": {"true"}})
	req.Header.Set("HX-Request", "true")
	rec = do(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Recent searches") {
		t.Errorf("cleared history block should be empty")
	}
	if len(a.Search.History()) != 0 {
		t.Errorf("History() = %v, want empty", a.Search.History())
	}
}

// --- Rendering helpers ---

func TestUserCard_EscapesMarkdown(t *testing.T) {
	html := string(renderMarkdown(userCard(directory.UserSummary{ID: 3, FirstName: "*bold*", LastName: "<script>"})))
	if strings.Contains(html, "<strong>bold</strong>") || strings.Contains(html, "<em>bold</em>") {
		t.Errorf("markdown in names should be literal: %s", html)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("raw HTML should not pass through: %s", html)
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := formatTime(ts); got != "2026-03-04 05:06" {
		t.Errorf("formatTime() = %q", got)
	}
}
