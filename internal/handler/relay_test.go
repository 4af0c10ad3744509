package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"form-relay/internal/client"
	"form-relay/internal/config"
	"form-relay/internal/service"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			URL:             upstreamURL,
			Referer:         config.DefaultReferer,
			ContentType:     config.DefaultContentType,
			BodyEncoding:    config.EncodingForm,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestRelayHandler(t *testing.T, cfg *config.Config) *RelayHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	svc, err := service.NewRelayService(uc, cfg, logger)
	if err != nil {
		t.Fatalf("NewRelayService: %v", err)
	}
	return NewRelayHandler(svc, logger)
}

func serveRelay(t *testing.T, h *RelayHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestRelayHandler_Handle_Success(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("username") != "a" || r.PostForm.Get("password") != "b" {
			t.Errorf("form = %v, want username=a password=b", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"xyz"}`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, testConfig(upstream.URL))
	rec := serveRelay(t, h, `{"username":"a","password":"b"}`)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"token":"xyz"}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"token":"xyz"}`)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		t.Errorf("Content-Type = %q, want %q", ct, echo.MIMEApplicationJSON)
	}
}

func TestRelayHandler_Handle_Non200SuccessReportedAs200(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"created":true}`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, testConfig(upstream.URL))
	rec := serveRelay(t, h, `{}`)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"created":true}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"created":true}`)
	}
}

func TestRelayHandler_Handle_TextBodyEncodedAsJSONString(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>ok</html>`))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, testConfig(upstream.URL))
	rec := serveRelay(t, h, `{}`)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	if got != `<html>ok</html>` {
		t.Errorf("body = %q, want %q", got, `<html>ok</html>`)
	}
}

func TestRelayHandler_Handle_UpstreamErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"forbidden", http.StatusForbidden},
		{"server error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"bad creds"}`))
			}))
			defer upstream.Close()

			h := newTestRelayHandler(t, testConfig(upstream.URL))
			rec := serveRelay(t, h, `{"username":"a","password":"b"}`)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			want := fmt.Sprintf("Request failed with status code %d", tt.status)
			if body["error"] != want {
				t.Errorf("error = %q, want %q", body["error"], want)
			}
		})
	}
}

func TestRelayHandler_Handle_ConnectionRefused(t *testing.T) {
	h := newTestRelayHandler(t, testConfig("http://127.0.0.1:1/autologin"))
	rec := serveRelay(t, h, `{"username":"a"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected non-empty error message in response")
	}
}

func TestRelayHandler_Handle_BodyTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("upstream should not be called for an oversized body")
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, testConfig(upstream.URL))

	e := echo.New()
	e.Use(echomw.BodyLimit("8B"))
	e.POST("/proxy", h.Handle)

	req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(`{"username":"aaaaaaaaaaaa"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestRelayHandler_Handle_ConcurrentIsolation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"user":%q}`, r.PostForm.Get("username"))
	}))
	defer upstream.Close()

	h := newTestRelayHandler(t, testConfig(upstream.URL))
	e := echo.New()
	e.POST("/proxy", h.Handle)

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(`{"username":"`+user+`"}`))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if want := `{"user":"` + user + `"}`; rec.Body.String() != want {
				t.Errorf("body = %q, want %q", rec.Body.String(), want)
			}
		}()
	}
	wg.Wait()
}

func TestJSONBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"object verbatim", `{"a": 1}`, `{"a": 1}`},
		{"array verbatim", `[1,2]`, `[1,2]`},
		{"text quoted", `hello`, `"hello"`},
		{"empty quoted", ``, `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(jsonBody([]byte(tt.in))); got != tt.want {
				t.Errorf("jsonBody(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
