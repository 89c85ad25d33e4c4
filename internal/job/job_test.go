package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nuetzliches/docrelay/internal/dispatcher"
	"github.com/nuetzliches/docrelay/internal/journal"
	"github.com/nuetzliches/docrelay/internal/record"
	"github.com/nuetzliches/docrelay/internal/report"
	"github.com/nuetzliches/docrelay/internal/source"
)

type endpoint struct {
	mu     sync.Mutex
	bodies []string
	fail   map[int]int
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	e.bodies = append(e.bodies, string(body))
	n := len(e.bodies)
	status, ok := e.fail[n]
	e.mu.Unlock()
	if !ok {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (e *endpoint) received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.bodies...)
}

type recordingSink struct {
	read      int
	attempts  []string
	succeeded int
	failed    int
	runErr    error
	flushed   bool
}

func (s *recordingSink) DocumentsRead(n int) { s.read = n }
func (s *recordingSink) AttemptCompleted(outcome, _ string, _ time.Duration) {
	s.attempts = append(s.attempts, outcome)
}
func (s *recordingSink) RunCompleted(succeeded, failed int, _ time.Duration, err error) {
	s.succeeded, s.failed, s.runErr = succeeded, failed, err
}
func (s *recordingSink) Flush(context.Context) error {
	s.flushed = true
	return errors.New("gateway down")
}

func bookings(n int) []record.Document {
	out := make([]record.Document, 0, n)
	for i := 1; i <= n; i++ {
		key := string(rune('a' + i - 1))
		out = append(out, record.Document{
			Key:    key,
			Record: record.Record{"_id": key, "token": "tok-" + key, "n": i},
		})
	}
	return out
}

func newTestJob(t *testing.T, src source.Source, url string) (*Job, string, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	failureFile := filepath.Join(t.TempDir(), "failed_documents.json")
	j := &Job{
		Source: src,
		Pipeline: &dispatcher.Pipeline{
			Deliverer: dispatcher.NewHTTPDeliverer(nil, dispatcher.EgressPolicy{}),
			URL:       url,
			Delay:     time.Millisecond,
			Logger:    logger,
		},
		Reporter: &report.Reporter{FailureFile: failureFile, Logger: logger},
		Logger:   logger,
		RunID:    "run_test",
		Target:   url,
		Origin:   "rd1.3271",
	}
	return j, failureFile, &logs
}

func TestRun_EmptyCollection(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	j, failureFile, logs := newTestJob(t, source.StaticSource{}, srv.URL)
	sum, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Total != 0 || sum.Succeeded != 0 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %#v", sum)
	}
	if len(ep.received()) != 0 {
		t.Fatalf("expected no requests, got %d", len(ep.received()))
	}
	if _, err := os.Stat(failureFile); !os.IsNotExist(err) {
		t.Fatalf("failure file should not exist, stat err=%v", err)
	}
	if !strings.Contains(logs.String(), `"msg":"documents_count"`) {
		t.Fatalf("missing documents_count log: %s", logs.String())
	}
}

func TestRun_AllSucceed(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	j, failureFile, _ := newTestJob(t, source.StaticSource{Docs: bookings(3)}, srv.URL)
	sink := &recordingSink{}
	j.Metrics = sink
	sum, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Succeeded != 3 || sum.Failed != 0 || sum.FailureFile != "" {
		t.Fatalf("unexpected summary: %#v", sum)
	}
	got := ep.received()
	if len(got) != 3 {
		t.Fatalf("requests=%d, want 3", len(got))
	}
	for i, body := range got {
		if strings.Contains(body, `"_id"`) {
			t.Fatalf("body %d carries _id: %s", i, body)
		}
		want := `"token":"tok-` + string(rune('a'+i)) + `"`
		if !strings.Contains(body, want) {
			t.Fatalf("body %d=%s, want contains %s", i, body, want)
		}
	}
	if _, err := os.Stat(failureFile); !os.IsNotExist(err) {
		t.Fatalf("failure file should not exist, stat err=%v", err)
	}
	if sink.read != 3 || len(sink.attempts) != 3 || sink.succeeded != 3 || !sink.flushed {
		t.Fatalf("unexpected metrics: %#v", sink)
	}
}

func TestRun_SecondFails(t *testing.T) {
	ep := &endpoint{fail: map[int]int{2: http.StatusInternalServerError}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	j, failureFile, logs := newTestJob(t, source.StaticSource{Docs: bookings(3)}, srv.URL)
	sum, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Succeeded != 2 || sum.Failed != 1 {
		t.Fatalf("counts=%d/%d, want 2/1", sum.Succeeded, sum.Failed)
	}
	if sum.Succeeded+sum.Failed != sum.Total {
		t.Fatalf("succeeded+failed=%d, want %d", sum.Succeeded+sum.Failed, sum.Total)
	}
	if sum.FailureFile != failureFile {
		t.Fatalf("failure file=%q, want %q", sum.FailureFile, failureFile)
	}
	if len(ep.received()) != 3 {
		t.Fatalf("processing should continue after a failure, got %d requests", len(ep.received()))
	}

	data, err := os.ReadFile(failureFile)
	if err != nil {
		t.Fatalf("read failure file: %v", err)
	}
	var failed []map[string]any
	if err := json.Unmarshal(data, &failed); err != nil {
		t.Fatalf("decode failure file: %v", err)
	}
	if len(failed) != 1 || failed[0]["token"] != "tok-b" {
		t.Fatalf("failures=%v, want only record b", failed)
	}
	if _, ok := failed[0]["_id"]; ok {
		t.Fatalf("failure file carries _id: %s", data)
	}
	if !strings.Contains(string(data), "\n  {") {
		t.Fatalf("failure file not indented: %s", data)
	}
	if !strings.Contains(logs.String(), `"msg":"document_send_failed"`) {
		t.Fatalf("missing failure log")
	}
}

func TestRun_SourceErrorSkipsDispatch(t *testing.T) {
	ep := &endpoint{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	readErr := errors.Join(source.ErrConnect, errors.New("server selection timeout"))
	j, failureFile, _ := newTestJob(t, source.StaticSource{Err: readErr}, srv.URL)
	sink := &recordingSink{}
	j.Metrics = sink
	_, err := j.Run(context.Background())
	if !errors.Is(err, source.ErrConnect) {
		t.Fatalf("err=%v, want ErrConnect", err)
	}
	if len(ep.received()) != 0 {
		t.Fatalf("no requests expected after source error")
	}
	if _, err := os.Stat(failureFile); !os.IsNotExist(err) {
		t.Fatalf("failure file should not exist, stat err=%v", err)
	}
	if !errors.Is(sink.runErr, source.ErrConnect) {
		t.Fatalf("metrics run err=%v, want ErrConnect", sink.runErr)
	}
}

func TestRun_FailureFileWriteError(t *testing.T) {
	ep := &endpoint{fail: map[int]int{1: http.StatusBadRequest}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	j, _, _ := newTestJob(t, source.StaticSource{Docs: bookings(1)}, srv.URL)
	j.Reporter.FailureFile = filepath.Join(t.TempDir(), "missing", "dir", "failed.json")
	_, err := j.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "write failure file") {
		t.Fatalf("err=%v, want write failure file error", err)
	}
}

func TestRun_InterruptedStillReports(t *testing.T) {
	ep := &endpoint{fail: map[int]int{1: http.StatusInternalServerError}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, failureFile, _ := newTestJob(t, source.StaticSource{Docs: bookings(3)}, srv.URL)
	j.Pipeline.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	sum, err := j.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sum.Interrupted {
		t.Fatalf("expected interrupted summary")
	}
	if sum.Failed != 1 || sum.Succeeded != 0 {
		t.Fatalf("counts=%d/%d, want 0/1", sum.Succeeded, sum.Failed)
	}
	if len(ep.received()) != 1 {
		t.Fatalf("requests=%d, want 1", len(ep.received()))
	}
	if _, err := os.Stat(failureFile); err != nil {
		t.Fatalf("failure file should be written for processed subset: %v", err)
	}
}

func TestRun_JournalRecordsAttempts(t *testing.T) {
	ep := &endpoint{fail: map[int]int{2: http.StatusBadGateway}}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	store, err := journal.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	j, _, _ := newTestJob(t, source.StaticSource{Docs: bookings(3)}, srv.URL)
	j.Journal = store
	if _, err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	run, err := store.GetRun(ctx, "run_test")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Total != 3 || run.Succeeded != 2 || run.Failed != 1 || run.FinishedAt.IsZero() {
		t.Fatalf("unexpected run: %#v", run)
	}
	if run.Source != "rd1.3271" || run.Target != srv.URL {
		t.Fatalf("unexpected run labels: %#v", run)
	}

	resp, err := store.ListAttempts(ctx, journal.AttemptListRequest{RunID: "run_test"})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("attempts=%d, want 3", len(resp.Items))
	}
	second := resp.Items[1]
	if second.Seq != 2 || second.DocumentKey != "b" || second.StatusCode != http.StatusBadGateway || second.Outcome != journal.OutcomeFailed {
		t.Fatalf("unexpected second attempt: %#v", second)
	}
	if !strings.Contains(second.Error, "502") {
		t.Fatalf("second attempt should carry an error")
	}
}

func TestRun_RequiresComponents(t *testing.T) {
	if _, err := (&Job{}).Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty job")
	}
}
