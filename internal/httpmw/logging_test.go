package httpmw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fcojfernandez/support-core-plugin/internal/log"
)

func testLogger(t *testing.T, buf *bytes.Buffer) log.Logger {
	t.Helper()
	l, err := log.New(log.Options{App: "test", Level: slog.LevelDebug, JsonFormat: true, Writer: buf})
	if err != nil {
		t.Fatalf("log.New: %v", err)
	}
	return l
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("no log output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestWithLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := testLogger(t, &buf)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).Info(r.Context(), "inside handler")
		}),
		RequestID(""),
		WithLogger(base),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/bundles", http.NoBody))

	m := lastLine(t, &buf)
	if m["msg"] != "inside handler" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["request_id"] == nil || m["request_id"] == "" {
		t.Fatal("request_id missing from handler log")
	}
	if m["url.path"] != "/api/bundles" {
		t.Fatalf("url.path = %v", m["url.path"])
	}
	if m["http.request.method"] != "GET" {
		t.Fatalf("method = %v", m["http.request.method"])
	}
}

func TestAccessLog_EmitsRequestLine(t *testing.T) {
	var buf bytes.Buffer
	base := testLogger(t, &buf)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte("queued"))
		}),
		WithLogger(base),
		AccessLog(),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/bundles", http.NoBody))

	m := lastLine(t, &buf)
	if m["msg"] != "http request" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["http.response.status_code"] != float64(202) {
		t.Fatalf("status = %v", m["http.response.status_code"])
	}
	if m["http.response.body.size"] != float64(6) {
		t.Fatalf("body size = %v", m["http.response.body.size"])
	}
}

func TestAccessLog_SkipsHealthEndpoints(t *testing.T) {
	var buf bytes.Buffer
	base := testLogger(t, &buf)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		WithLogger(base),
		AccessLog(),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/-/healthy", http.NoBody))

	if strings.Contains(buf.String(), "http request") {
		t.Fatal("health endpoint should not produce an access log line")
	}
}

func TestScope_AddsHandlerField(t *testing.T) {
	var buf bytes.Buffer
	base := testLogger(t, &buf)

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.FromContext(r.Context()).Info(r.Context(), "scoped")
		}),
		WithLogger(base),
		Scope("bundles"),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	m := lastLine(t, &buf)
	if m["handler"] != "bundles" {
		t.Fatalf("handler = %v", m["handler"])
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("default scheme = %q", got)
	}

	r.Header.Set("X-Forwarded-Proto", "https, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("forwarded scheme = %q", got)
	}
}
