package api

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/duckmesh/probe/internal/export"
	"github.com/duckmesh/probe/internal/history"
	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/llm/llmtest"
	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/probe"
	"github.com/duckmesh/probe/internal/source"
	"github.com/duckmesh/probe/internal/source/sourcetest"
	"github.com/duckmesh/probe/internal/storage"
)

const (
	revenuePlan = `{"kind":"pipeline","steps":[
		{"op":"with_columns","columns":[{"name":"revenue","expr":{"op":"mul","args":[{"op":"col","name":"quantity"},{"op":"col","name":"unit_price"}]}}]},
		{"op":"group_by","keys":[{"expr":{"op":"col","name":"product"}}],"aggs":[{"name":"total_revenue","expr":{"op":"sum","args":[{"op":"col","name":"revenue"}]}}]},
		{"op":"sort","by":[{"column":"total_revenue","descending":true}]}
	]}`
	unknownColumnPlan = `{"kind":"pipeline","steps":[
		{"op":"group_by","keys":[{"expr":{"op":"col","name":"product"}}],"aggs":[{"name":"total_revenue","expr":{"op":"sum","args":[{"op":"col","name":"revenue"}]}}]}
	]}`
	revenueAnswer = "Product A leads with 30.0 in revenue."
)

func TestAskReturnsAnswerAndTable(t *testing.T) {
	client := llmtest.Texts(revenuePlan, revenueAnswer)
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, client),
		OpenSource: fixtureOpener(t),
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["answer"] != revenueAnswer {
		t.Fatalf("answer = %v", body["answer"])
	}
	if body["state"] != string(probe.StateSuccess) {
		t.Fatalf("state = %v", body["state"])
	}
	rows, ok := body["rows"].([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("rows = %#v", body["rows"])
	}
	first := rows[0].([]any)
	if first[0] != "A" || first[1] != 30.0 {
		t.Fatalf("first row = %#v", first)
	}
	columns := body["columns"].([]any)
	if columns[1].(map[string]any)["name"] != "total_revenue" {
		t.Fatalf("columns = %#v", columns)
	}
	if candidates := body["candidates"].([]any); len(candidates) != 1 {
		t.Fatalf("candidates = %#v", candidates)
	}
	if client.Calls() != 2 {
		t.Fatalf("model calls = %d, want 2", client.Calls())
	}
}

func TestAskEncodesNonFiniteValues(t *testing.T) {
	divisionPlan := `{"kind":"expression","name":"d","expr":{"op":"div","args":[{"op":"col","name":"quantity"},{"op":"lit","value":0}]}}`
	client := llmtest.Texts(divisionPlan, "Every ratio is infinite.")
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, client),
		OpenSource: fixtureOpener(t),
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"quantity divided by zero"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["answer"] != "Every ratio is infinite." {
		t.Fatalf("answer = %v", body["answer"])
	}
	rows, ok := body["rows"].([]any)
	if !ok || len(rows) != 3 {
		t.Fatalf("rows = %#v", body["rows"])
	}
	if first := rows[0].([]any); first[0] != "+Inf" {
		t.Fatalf("first row = %#v", first)
	}
}

func TestWriteJSONReportsEncodingFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusOK, map[string]any{"value": math.Inf(1)})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "RESPONSE_ENCODING_FAILED" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestJSONRowsReplacesNonFiniteFloats(t *testing.T) {
	rows := [][]any{{math.Inf(1), math.Inf(-1), math.NaN(), 1.5, "x", nil}}
	got := jsonRows(rows)
	want := []any{"+Inf", "-Inf", "NaN", 1.5, "x", nil}
	for i := range want {
		if got[0][i] != want[i] {
			t.Fatalf("jsonRows()[0][%d] = %#v, want %#v", i, got[0][i], want[i])
		}
	}
	if !math.IsInf(rows[0][0].(float64), 1) {
		t.Fatal("jsonRows() modified its input")
	}
	if got := jsonRows(nil); got == nil || len(got) != 0 {
		t.Fatalf("jsonRows(nil) = %#v", got)
	}
}

func TestAskUsesConfiguredRetryBudget(t *testing.T) {
	client := llmtest.Texts(unknownColumnPlan, revenuePlan, revenueAnswer)
	h := NewHandler(loadConfig(t, map[string]string{"PROBE_SESSION_MAX_RETRIES": "1"}), Dependencies{
		Asker:      newAsker(t, client),
		OpenSource: fixtureOpener(t),
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["retries"] != 1.0 || body["attempts"] != 2.0 {
		t.Fatalf("retries/attempts = %v/%v", body["retries"], body["attempts"])
	}
	candidates := body["candidates"].([]any)
	failed := candidates[0].(map[string]any)
	if failed["origin"] != "generated" || failed["error"].(map[string]any)["kind"] != "unknown_column" {
		t.Fatalf("first candidate = %#v", failed)
	}
}

func TestAskExhaustedRetriesReturns422(t *testing.T) {
	client := llmtest.Texts(unknownColumnPlan)
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, client),
		OpenSource: fixtureOpener(t),
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product","max_retries":0}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != string(probe.StateExhaustedRetry) || body["answer"] != "" {
		t.Fatalf("state/answer = %v/%v", body["state"], body["answer"])
	}
	if body["code"] != unknownColumnPlan {
		t.Fatalf("code = %v", body["code"])
	}
	sessionErr := body["error"].(map[string]any)
	if sessionErr["error_code"] != "RETRY_EXHAUSTED" || sessionErr["kind"] != "unknown_column" {
		t.Fatalf("error = %#v", sessionErr)
	}
}

func TestAskModelFailureReturns502(t *testing.T) {
	client := llmtest.New(llmtest.Reply{Err: errors.New("upstream down")})
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, client),
		OpenSource: fixtureOpener(t),
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "MODEL_UNAVAILABLE" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestAskValidatesRequest(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, llmtest.Texts()),
		OpenSource: fixtureOpener(t),
	})

	tests := []struct {
		name string
		body string
		want int
		code string
	}{
		{name: "bad json", body: `{"source":`, want: http.StatusBadRequest, code: "INVALID_JSON"},
		{name: "unknown field", body: `{"source":"sales.csv","query":"q","sql":"x"}`, want: http.StatusBadRequest, code: "INVALID_JSON"},
		{name: "blank query", body: `{"source":"sales.csv","query":"  "}`, want: http.StatusBadRequest, code: "QUERY_REQUIRED"},
		{name: "missing source", body: `{"query":"q"}`, want: http.StatusBadRequest, code: "SOURCE_REQUIRED"},
		{name: "negative retries", body: `{"source":"sales.csv","query":"q","max_retries":-1}`, want: http.StatusBadRequest, code: "INVALID_MAX_RETRIES"},
		{name: "too many retries", body: `{"source":"sales.csv","query":"q","max_retries":11}`, want: http.StatusBadRequest, code: "INVALID_MAX_RETRIES"},
		{name: "export without store", body: `{"source":"sales.csv","query":"q","export":true}`, want: http.StatusNotImplemented, code: "EXPORT_NOT_CONFIGURED"},
		{name: "missing file", body: `{"source":"nope.csv","query":"q"}`, want: http.StatusNotFound, code: "SOURCE_NOT_FOUND"},
		{name: "outside root", body: `{"source":"../etc/passwd.csv","query":"q"}`, want: http.StatusBadRequest, code: "SOURCE_INVALID"},
		{name: "unsupported format", body: `{"source":"sales.xlsx","query":"q"}`, want: http.StatusBadRequest, code: "SOURCE_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(h, "/v1/ask", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if body := decodeBody(t, rr); body["error_code"] != tt.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tt.code)
			}
		})
	}
}

func TestAskWithoutDependenciesReturns501(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"q"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskExportsResolvedTable(t *testing.T) {
	exporter := &recordingExporter{}
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, llmtest.Texts(revenuePlan, revenueAnswer)),
		OpenSource: fixtureOpener(t),
		Exporter:   exporter,
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product","export":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	exported := body["export"].(map[string]any)
	if !strings.HasPrefix(exported["location"].(string), "s3://exports-bucket/exports/") {
		t.Fatalf("export = %#v", exported)
	}
	if exporter.sessionID != body["session_id"] || exporter.rows != 2 {
		t.Fatalf("exporter saw session %q with %d rows", exporter.sessionID, exporter.rows)
	}
}

func TestAskReportsExportFailureWithoutLosingAnswer(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{
		Asker:      newAsker(t, llmtest.Texts(revenuePlan, revenueAnswer)),
		OpenSource: fixtureOpener(t),
		Exporter:   &recordingExporter{err: errors.New("bucket unavailable")},
	})

	rr := postJSON(h, "/v1/ask", `{"source":"sales.csv","query":"total revenue by product","export":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["answer"] != revenueAnswer {
		t.Fatalf("answer = %v", body["answer"])
	}
	if body["export"].(map[string]any)["error"] != "bucket unavailable" {
		t.Fatalf("export = %#v", body["export"])
	}
}

func TestClassifySessionError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: &probe.RetryExhaustedError{Attempts: 1}, status: http.StatusUnprocessableEntity, code: "RETRY_EXHAUSTED"},
		{err: &probe.MaterializationError{Err: errors.New("overflow")}, status: http.StatusUnprocessableEntity, code: "MATERIALIZATION_FAILED"},
		{err: &probe.ModelError{Stage: probe.StageTranslate, Err: errors.New("boom")}, status: http.StatusBadGateway, code: "MODEL_UNAVAILABLE"},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "SESSION_TIMEOUT"},
		{err: context.Canceled, status: http.StatusServiceUnavailable, code: "SESSION_CANCELED"},
		{err: errors.New("other"), status: http.StatusInternalServerError, code: "SESSION_FAILED"},
	}
	for _, tt := range tests {
		status, code, _ := classifySessionError(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("classifySessionError(%v) = %d/%s, want %d/%s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func newAsker(t *testing.T, client llm.Client) *probe.Asker {
	t.Helper()
	asker, err := probe.NewAsker(probe.Config{Client: client, BinderCheck: true})
	if err != nil {
		t.Fatalf("probe.NewAsker() error = %v", err)
	}
	return asker
}

// fixtureOpener serves sales.csv from a temp root, confined the way the
// server confines sources.
func fixtureOpener(t *testing.T) SourceOpener {
	t.Helper()
	root := filepath.Dir(sourcetest.WriteFile(t, "sales.csv", sourcetest.SalesCSV))
	if err := os.WriteFile(filepath.Join(root, "sales.xlsx"), []byte("binary"), 0o600); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}
	return func(ctx context.Context, raw string) (Source, error) {
		if !filepath.IsAbs(raw) {
			raw = filepath.Join(root, raw)
		}
		src, err := source.Open(ctx, raw, source.Options{Root: root})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

type recordingExporter struct {
	err       error
	sessionID string
	rows      int
}

func (e *recordingExporter) ExportSession(_ context.Context, sessionID string, table materialize.Table) (export.Result, error) {
	if e.err != nil {
		return export.Result{}, e.err
	}
	e.sessionID = sessionID
	e.rows = len(table.Rows)
	return export.Result{
		Location: storage.Location{Scheme: "s3", Bucket: "exports-bucket", Key: "exports/date=2025-03-09/" + sessionID + ".parquet"},
		Rows:     int64(len(table.Rows)),
		Bytes:    512,
	}, nil
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryHistory) Record(_ context.Context, entry history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func newAskerWithHistory(t *testing.T, recorder history.Recorder) *probe.Asker {
	t.Helper()
	asker, err := probe.NewAsker(probe.Config{
		Client:      llmtest.Texts(revenuePlan, revenueAnswer),
		BinderCheck: true,
		History:     recorder,
	})
	if err != nil {
		t.Fatalf("probe.NewAsker() error = %v", err)
	}
	return asker
}
