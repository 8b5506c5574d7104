package viewer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/tsangwailam/mcclaw/internal/health"
)

func TestHandlerServesPage(t *testing.T) {
	api, _ := url.Parse("http://127.0.0.1:1")
	srv := httptest.NewServer(NewHandler(api, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "mclaw activity") {
		t.Error("Expected dashboard page")
	}
}

func TestHandlerAnswersOwnHealth(t *testing.T) {
	api, _ := url.Parse("http://127.0.0.1:1")
	srv := httptest.NewServer(NewHandler(api, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + health.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var h health.Response
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.PID != os.Getpid() {
		t.Errorf("Unexpected health %+v", h)
	}
}

func TestHandlerProxiesAPI(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/activity" || r.URL.Query().Get("limit") != "50" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"activities":[]}`))
	}))
	defer daemon.Close()

	api, _ := url.Parse(daemon.URL)
	srv := httptest.NewServer(NewHandler(api, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/activity?limit=50")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "activities") {
		t.Errorf("Unexpected proxied response %d %s", resp.StatusCode, body)
	}
}

func TestHandlerReportsUnreachableDaemon(t *testing.T) {
	daemon := httptest.NewServer(http.NotFoundHandler())
	api, _ := url.Parse(daemon.URL)
	daemon.Close()

	srv := httptest.NewServer(NewHandler(api, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/activity")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
}
