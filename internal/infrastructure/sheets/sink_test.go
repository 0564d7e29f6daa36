package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
)

type fakeSheets struct {
	mu        sync.Mutex
	header    []any
	calls     []string
	bodies    map[string][][]any
	worksheet string
}

func newFakeSheets(worksheet string, header []any) *fakeSheets {
	return &fakeSheets{worksheet: worksheet, header: header, bodies: map[string][][]any{}}
}

func (f *fakeSheets) record(call string, r *http.Request) {
	var body struct {
		Values [][]any `json:"values"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if body.Values != nil {
		f.bodies[call] = body.Values
	}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "/files":
		f.record("drive.list", r)
		_, _ = w.Write([]byte(`{"files":[{"id":"found-id","name":"Insights"}]}`))
	case r.Method == http.MethodGet && strings.HasSuffix(path, "!1:1"):
		f.record("get.header", r)
		payload, _ := json.Marshal(map[string]any{"range": "x", "values": [][]any{f.header}})
		if f.header == nil {
			payload = []byte(`{"range":"x"}`)
		}
		_, _ = w.Write(payload)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/"):
		f.record("get.spreadsheet", r)
		payload, _ := json.Marshal(map[string]any{
			"sheets": []any{map[string]any{"properties": map[string]any{"title": f.worksheet}}},
		})
		_, _ = w.Write(payload)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		f.record("append", r)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.record("clear", r)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		f.record("update", r)
		_, _ = w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func connect(t *testing.T, fake *fakeSheets, cfg config.SinkConfig) (*Sink, error) {
	t.Helper()

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return Connect(context.Background(), cfg, nil,
		option.WithHTTPClient(server.Client()),
		option.WithEndpoint(server.URL+"/"),
	)
}

func sinkConfig(mode string) config.SinkConfig {
	return config.SinkConfig{
		Kind:   config.SinkSheets,
		Mode:   mode,
		Sheets: config.SheetsConfig{SpreadsheetID: "sheet-1", Worksheet: "Reviews"},
	}
}

var batch = domain.ResultBatch{
	RunID:  "run-1",
	Header: []string{"app_name", "rating"},
	Rows:   [][]any{{"Fugle", float64(1)}, {"XQ", float64(5)}},
}

func TestAppendWritesHeaderWhenMissing(t *testing.T) {
	t.Parallel()

	fake := newFakeSheets("Reviews", nil)
	sink, err := connect(t, fake, sinkConfig(config.ModeAppend))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := sink.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	want := []string{"get.spreadsheet", "get.header", "update", "append"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
	if got := fake.bodies["update"]; len(got) != 1 || got[0][0] != "app_name" {
		t.Fatalf("unexpected header body %v", got)
	}
	if got := fake.bodies["append"]; len(got) != 2 || got[0][0] != "Fugle" || got[1][0] != "XQ" {
		t.Fatalf("unexpected appended rows %v", got)
	}
}

func TestAppendSkipsMatchingHeader(t *testing.T) {
	t.Parallel()

	fake := newFakeSheets("Reviews", []any{"app_name", "rating"})
	sink, err := connect(t, fake, sinkConfig(config.ModeAppend))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := sink.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	want := []string{"get.spreadsheet", "get.header", "append"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
}

func TestOverwriteClearsThenWrites(t *testing.T) {
	t.Parallel()

	fake := newFakeSheets("Reviews", []any{"old"})
	sink, err := connect(t, fake, sinkConfig(config.ModeOverwrite))
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := sink.Write(context.Background(), batch); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	want := []string{"get.spreadsheet", "clear", "update"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", fake.calls)
	}
	if got := fake.bodies["update"]; len(got) != 3 || got[0][0] != "app_name" || got[2][0] != "XQ" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestConnectResolvesSpreadsheetByName(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig(config.ModeAppend)
	cfg.Sheets.SpreadsheetID = ""
	cfg.Sheets.SpreadsheetName = "Insights"

	fake := newFakeSheets("Reviews", nil)
	sink, err := connect(t, fake, cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if sink.spreadsheetID != "found-id" {
		t.Fatalf("unexpected spreadsheet id %s", sink.spreadsheetID)
	}
}

func TestConnectFailsOnMissingWorksheet(t *testing.T) {
	t.Parallel()

	fake := newFakeSheets("Other", nil)
	if _, err := connect(t, fake, sinkConfig(config.ModeAppend)); err == nil {
		t.Fatalf("expected error for missing worksheet")
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	if got := quote("Bob's sheet"); got != "'Bob''s sheet'" {
		t.Fatalf("unexpected quote %s", got)
	}
}
