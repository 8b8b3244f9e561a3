package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	wikiapi "cgt.name/pkg/go-wikiapi"
	"cgt.name/pkg/go-wikiapi/internal/config"
)

// run executes the command line args against a fake wiki served by
// handler and returns what was printed.
func run(t *testing.T, handler http.HandlerFunc, extraConfig string, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			panic("Bad HTTP form")
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf("site:\n  api: %s/w/api.php\n  maxlag: 0\ntracing:\n  enabled: false\nlogging:\n  level: error\n%s", server.URL, extraConfig)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPageCommand(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Foo", r.Form.Get("titles"))
		assert.False(t, r.Form.Has("maxlag"))
		fmt.Fprint(w, `{"batchcomplete":true,"query":{"pages":[{"pageid":1,"ns":0,"title":"Foo","revisions":[
			{"revid":7,"parentid":6,"timestamp":"2024-01-02T00:00:00Z","slots":{"main":{"content":"Hello"}}}]}]}}`)
	}, "", "page", "Foo", "-o", "json")
	require.NoError(t, err)

	var page pageOutput
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, pageOutput{Title: "Foo", PageID: 1, RevID: 7, Timestamp: "2024-01-02T00:00:00Z", Wikitext: "Hello"}, page)
}

func TestQueryCommand(t *testing.T) {
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "query", r.Form.Get("action"))
		assert.Equal(t, "siteinfo", r.Form.Get("meta"))
		fmt.Fprint(w, `{"batchcomplete":true,"query":{"general":{"sitename":"Wikipedia","lang":"en"}}}`)
	}, "", "query", "meta=siteinfo", "siprop=general")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	general := doc["query"].(map[string]any)["general"].(map[string]any)
	assert.Equal(t, "Wikipedia", general["sitename"])

	_, err = run(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %v", r.Form)
	}, "", "query", "nokey")
	assert.Error(t, err)
}

func TestSQLCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "replica.db")
	out, err := run(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %v", r.Form)
	}, fmt.Sprintf("sql:\n  dsn: %s\n", dsn), "sql", "SELECT 1 AS one, 'x' AS two", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, float64(1), rows[0]["one"])
	assert.Equal(t, "x", rows[0]["two"])
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, func(w http.ResponseWriter, r *http.Request) {}, "", "page", "Foo", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestSessionOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Site.API = "en"
	cfg.Site.UserAgent = "test-agent"
	cfg.Site.RateLimit = 2
	cfg.SQL.DSN = "file:x.db"
	opts := sessionOptions(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Len(t, opts, 6)

	s, err := openSession(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "https://en.wikipedia.org/w/api.php", s.API().APIURL().String())
}

func TestChangeLine(t *testing.T) {
	line := changeLine(wikiapi.ListItem{
		Type: "edit", Title: "Foo", User: "Bar", Comment: "typo", Timestamp: "2024-05-01T09:30:00Z",
	})
	assert.Equal(t, "09:30:00 edit Foo (Bar) typo", line)
}

func TestMetricsRouter(t *testing.T) {
	server := httptest.NewServer(newMetricsRouter())
	defer server.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestParseParams(t *testing.T) {
	p, err := parseParams([]string{"list=allpages", "aplimit=5", "apfrom=a=b"})
	require.NoError(t, err)
	assert.Equal(t, "allpages", p.Get("list"))
	assert.Equal(t, "a=b", p.Get("apfrom"))

	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}
