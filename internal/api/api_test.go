package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/clock"
	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/metrics"
	"github.com/BTreeMap/FunnelPipe/internal/models"
	"github.com/BTreeMap/FunnelPipe/internal/scheduler"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
)

const testContact = "919876543210"

type testEnv struct {
	srv    *httptest.Server
	orch   *flow.Orchestrator
	store  *store.InMemoryStore
	client *whatsapp.MockClient
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	st := store.NewInMemoryStore(store.WithClock(clk))
	client := whatsapp.NewMockClient()
	pipeline := delivery.NewPipeline(client, st, delivery.WithClock(clk), delivery.WithMediaDir(t.TempDir()))
	orch := flow.NewOrchestrator(st, pipeline, flow.WithClock(clk), flow.WithMinInterval(0))
	t.Cleanup(orch.Shutdown)

	srv := httptest.NewServer(NewServer(orch, st, opts...).Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, orch: orch, store: st, client: client}
}

func (e *testEnv) do(t *testing.T, method, path string) (int, models.APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	var body models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return resp.StatusCode, body
}

func resultMap(t *testing.T, body models.APIResponse) map[string]any {
	t.Helper()
	m, ok := body.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", body.Result)
	}
	return m
}

func TestHealth(t *testing.T) {
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sched.AddJob(PruneJobName, DefaultPruneSchedule, func() {})
	env := newTestEnv(t, WithJobs(sched))

	code, body := env.do(t, http.MethodGet, "/health")
	if code != http.StatusOK || body.Status != string(models.APIStatusOK) {
		t.Fatalf("health = %d %+v", code, body)
	}
	jobs, ok := resultMap(t, body)["jobs"].([]any)
	if !ok || len(jobs) != 1 {
		t.Errorf("expected one job in health, got %v", resultMap(t, body)["jobs"])
	}
}

func TestRestartThenInspectSession(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/sessions/"+testContact+"/restart")
	if code != http.StatusOK {
		t.Fatalf("restart = %d %+v", code, body)
	}
	if got := resultMap(t, body)["stage"]; got != "AWAITING_LANGUAGE" {
		t.Errorf("restart stage = %v, want AWAITING_LANGUAGE", got)
	}
	if len(env.client.Sent()) != 1 {
		t.Errorf("expected the language prompt to be sent, got %d sends", len(env.client.Sent()))
	}

	code, body = env.do(t, http.MethodGet, "/sessions/+91%2098765-43210")
	if code != http.StatusOK {
		t.Fatalf("get session = %d", code)
	}
	state := resultMap(t, body)
	session := state["session"].(map[string]any)
	if session["stage"] != "AWAITING_LANGUAGE" || session["contact_id"] != testContact {
		t.Errorf("unexpected session: %v", session)
	}
	if timers, _ := state["timers"].([]any); len(timers) != 1 {
		t.Errorf("expected one live timer, got %v", state["timers"])
	}
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/sessions/"+testContact+"/restart")

	if code, _ := env.do(t, http.MethodDelete, "/sessions/"+testContact); code != http.StatusOK {
		t.Errorf("first delete = %d, want 200", code)
	}
	if code, _ := env.do(t, http.MethodDelete, "/sessions/"+testContact); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
	if env.orch.Scheduler().IsLive(testContact, flow.LanguageReminder) {
		t.Error("timer should be cancelled by delete")
	}
}

func TestRestartAfterShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.orch.Shutdown()
	code, body := env.do(t, http.MethodPost, "/sessions/"+testContact+"/restart")
	if code != http.StatusServiceUnavailable || body.Status != string(models.APIStatusError) {
		t.Errorf("restart after shutdown = %d %+v", code, body)
	}
}

func TestInvalidContactID(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/sessions/abc", "/contacts/abc", "/logs?contact=abc", "/logs?limit=-1", "/logs?limit=x"} {
		if code, _ := env.do(t, http.MethodGet, path); code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, code)
		}
	}
}

func TestContactsAndLogs(t *testing.T) {
	env := newTestEnv(t)

	if code, _ := env.do(t, http.MethodGet, "/contacts/"+testContact); code != http.StatusNotFound {
		t.Errorf("unknown contact = %d, want 404", code)
	}
	code, body := env.do(t, http.MethodGet, "/contacts")
	if code != http.StatusOK {
		t.Fatalf("contacts = %d", code)
	}
	if list, ok := body.Result.([]any); !ok || len(list) != 0 {
		t.Errorf("expected empty contact list, got %v", body.Result)
	}

	_, err := env.orch.HandleInboundMessage(context.Background(), models.InboundMessage{
		ID: "m1", ContactID: testContact, ContactName: "Riya", Text: "Can I get more info on this?",
	})
	if err != nil {
		t.Fatalf("HandleInboundMessage failed: %v", err)
	}

	code, body = env.do(t, http.MethodGet, "/contacts/"+testContact)
	if code != http.StatusOK || resultMap(t, body)["name"] != "Riya" {
		t.Errorf("contact = %d %+v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/logs?contact="+testContact+"&limit=1")
	if code != http.StatusOK {
		t.Fatalf("logs = %d", code)
	}
	entries, _ := body.Result.([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry with limit=1, got %d", len(entries))
	}
	if entries[0].(map[string]any)["from_bot"] != true {
		t.Errorf("newest entry should be the bot reply, got %v", entries[0])
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/sessions/"+testContact+"/restart")

	code, body := env.do(t, http.MethodGet, "/stats")
	if code != http.StatusOK {
		t.Fatalf("stats = %d", code)
	}
	res := resultMap(t, body)
	sessions := res["sessions"].(map[string]any)
	if sessions["active_sessions"] != float64(1) {
		t.Errorf("active_sessions = %v, want 1", sessions["active_sessions"])
	}
	stored := res["store"].(map[string]any)
	if stored["bot_messages"] != float64(1) {
		t.Errorf("bot_messages = %v, want 1", stored["bot_messages"])
	}
}

func TestMetricsAndWebhookMounting(t *testing.T) {
	hit := false
	env := newTestEnv(t, WithMetrics(metrics.New()), WithWebhook(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "go_goroutines") {
		t.Errorf("metrics = %d, body missing go collector", resp.StatusCode)
	}

	resp, err = http.Post(env.srv.URL+"/twilio/webhook", "application/x-www-form-urlencoded", strings.NewReader("From=x"))
	if err != nil {
		t.Fatalf("POST webhook failed: %v", err)
	}
	resp.Body.Close()
	if !hit {
		t.Error("webhook handler not called")
	}

	bare := newTestEnv(t)
	resp, err = http.Get(bare.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("metrics without registry = %d, want 404", resp.StatusCode)
	}
}

func TestPruneJob(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 5; i++ {
		st.AppendLogEntry(models.LogEntry{ContactID: testContact, Status: models.LogStatusReceived})
	}
	pruneJob(st, 2)()
	entries, _ := st.ListLogEntries(models.LogFilter{})
	if len(entries) != 2 {
		t.Errorf("expected 2 entries after prune, got %d", len(entries))
	}
}

func TestApplyOptsDefaults(t *testing.T) {
	cfg := applyOpts(nil)
	if cfg.Addr != DefaultAddr || cfg.Transport != TransportWhatsApp || cfg.PruneSchedule != DefaultPruneSchedule || cfg.LogRetention != DefaultLogRetention {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	cfg = applyOpts([]Option{WithAddr(":9090"), WithTransport(TransportTwilio), WithPruneSchedule("@daily"), WithLogRetention(50)})
	if cfg.Addr != ":9090" || cfg.Transport != TransportTwilio || cfg.PruneSchedule != "@daily" || cfg.LogRetention != 50 {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestNewTransportRejectsUnknown(t *testing.T) {
	if _, _, _, err := newTransport("carrier-pigeon", Modules{}); err == nil {
		t.Error("expected error for unknown transport")
	}
}
