package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fcojfernandez/support-core-plugin/internal/bundle"
)

type fakeLatest struct {
	res *bundle.Result
}

func (f *fakeLatest) Latest() (*bundle.Result, bool) { return f.res, f.res != nil }

type fakeArchives struct {
	infos   []bundle.Info
	listErr error
	paths   map[string]string
}

func (f *fakeArchives) List() ([]bundle.Info, error) { return f.infos, f.listErr }

func (f *fakeArchives) Resolve(name string) (string, error) {
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", errors.New("no such bundle")
}

func newTestRouter(api *API) *chi.Mux {
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, into any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	if into != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
			t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func TestHandleList(t *testing.T) {
	arch := &fakeArchives{infos: []bundle.Info{
		{Name: "support_2.zip", SizeBytes: 10},
		{Name: "support_1.zip", SizeBytes: 20},
	}}
	r := newTestRouter(NewAPI(&fakeLatest{}, arch, nil, nil))

	var resp ListResponse
	rec := doJSON(t, r, "GET", "/api/bundles", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(resp.Bundles) != 2 || resp.Bundles[0].Name != "support_2.zip" {
		t.Fatalf("bundles = %+v", resp.Bundles)
	}
}

func TestHandleList_Empty(t *testing.T) {
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, nil, nil))

	rec := doJSON(t, r, "GET", "/api/bundles", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// empty list must encode as [], not null
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["bundles"]) != "[]" {
		t.Fatalf("bundles = %s", raw["bundles"])
	}
}

func TestHandleList_Error(t *testing.T) {
	arch := &fakeArchives{listErr: errors.New("disk gone")}
	r := newTestRouter(NewAPI(&fakeLatest{}, arch, nil, nil))

	rec := doJSON(t, r, "GET", "/api/bundles", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleLatest(t *testing.T) {
	latest := &fakeLatest{res: &bundle.Result{Name: "support_x.zip", SHA256: "abc", Files: 3}}
	r := newTestRouter(NewAPI(latest, &fakeArchives{}, nil, nil))

	var resp bundle.Result
	rec := doJSON(t, r, "GET", "/api/bundles/latest", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Name != "support_x.zip" || resp.Files != 3 {
		t.Fatalf("latest = %+v", resp)
	}
}

func TestHandleLatest_NoneYet(t *testing.T) {
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, nil, nil))

	rec := doJSON(t, r, "GET", "/api/bundles/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleDownload(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "support_x.zip")
	if err := os.WriteFile(p, []byte("zip-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	arch := &fakeArchives{paths: map[string]string{"support_x.zip": p}}
	r := newTestRouter(NewAPI(&fakeLatest{}, arch, nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/bundles/support_x.zip", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "zip-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content-type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("missing Content-Disposition")
	}
}

func TestHandleDownload_Unknown(t *testing.T) {
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, nil, nil))

	rec := doJSON(t, r, "GET", "/api/bundles/nope.zip", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleTrigger(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	gen := func(ctx context.Context) (*bundle.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
		return &bundle.Result{Name: "support_new.zip"}, nil
	}
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, gen, nil))

	var resp TriggerResponse
	rec := doJSON(t, r, "POST", "/api/bundles", &resp)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Status != "accepted" {
		t.Fatalf("resp = %+v", resp)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generate not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestHandleTrigger_Conflict(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	gen := func(ctx context.Context) (*bundle.Result, error) {
		close(started)
		<-block
		return nil, nil
	}
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, gen, nil))

	rec := doJSON(t, r, "POST", "/api/bundles", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", rec.Code)
	}
	<-started

	rec = doJSON(t, r, "POST", "/api/bundles", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second status = %d, want 409", rec.Code)
	}
	close(block)
}

func TestHandleTrigger_Disabled(t *testing.T) {
	r := newTestRouter(NewAPI(&fakeLatest{}, &fakeArchives{}, nil, nil))

	rec := doJSON(t, r, "POST", "/api/bundles", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	latest := &fakeLatest{res: &bundle.Result{Name: "support_x.zip", SHA256: "abc"}}
	r := newTestRouter(NewAPI(latest, &fakeArchives{}, nil, nil))

	var resp StatusResponse
	rec := doJSON(t, r, "GET", "/api/status", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp.Generating {
		t.Fatal("should not report generating")
	}
	if resp.Latest == nil || resp.Latest.Name != "support_x.zip" {
		t.Fatalf("latest = %+v", resp.Latest)
	}
	if resp.ServerTime.IsZero() {
		t.Fatal("server time missing")
	}
}
