package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/firstmerge/firstmerge/internal/config"
	"github.com/firstmerge/firstmerge/internal/hosting"
	"github.com/firstmerge/firstmerge/internal/ratelimit"
)

// mockAPI simulates the hosting provider for one upstream repository and one
// learner fork. Writes mutate the ledger so re-runs see their own entry.
type mockAPI struct {
	mu sync.Mutex

	forkStatus  int
	writeStatus int
	prStatus    int

	ledger        string
	notFoundReads int // respond 404 to this many reads before serving

	forkCalls  int
	readCalls  int
	writeCalls int
	prCalls    int
}

func newMockAPI(ledgerContent string) *mockAPI {
	return &mockAPI{
		forkStatus:  http.StatusAccepted,
		writeStatus: http.StatusOK,
		prStatus:    http.StatusCreated,
		ledger:      ledgerContent,
	}
}

func (m *mockAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/upstream/practice/forks":
			m.forkCalls++
			w.WriteHeader(m.forkStatus)
			_, _ = w.Write([]byte(`{"full_name": "learner/practice"}`))

		case r.Method == http.MethodGet && r.URL.Path == "/repos/learner/practice/contents/CONTRIBUTORS.md":
			m.readCalls++
			if m.notFoundReads > 0 {
				m.notFoundReads--
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message": "Not Found"}`))
				return
			}
			encoded := base64.StdEncoding.EncodeToString([]byte(m.ledger))
			fmt.Fprintf(w, `{"content": %q, "sha": "sha-%d"}`, encoded, m.writeCalls)

		case r.Method == http.MethodPut && r.URL.Path == "/repos/learner/practice/contents/CONTRIBUTORS.md":
			m.writeCalls++
			if m.writeStatus != http.StatusOK && m.writeStatus != http.StatusCreated {
				w.WriteHeader(m.writeStatus)
				_, _ = w.Write([]byte(`{"message": "CONTRIBUTORS.md does not match"}`))
				return
			}
			var body struct {
				Content string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			decoded, _ := base64.StdEncoding.DecodeString(body.Content)
			m.ledger = string(decoded)
			w.WriteHeader(m.writeStatus)
			_, _ = w.Write([]byte(`{"commit": {"sha": "commit-1"}}`))

		case r.Method == http.MethodPost && r.URL.Path == "/repos/upstream/practice/pulls":
			m.prCalls++
			if m.prStatus != http.StatusCreated {
				w.WriteHeader(m.prStatus)
				_, _ = w.Write([]byte(`{"message": "A pull request already exists"}`))
				return
			}
			w.WriteHeader(m.prStatus)
			_, _ = w.Write([]byte(`{"html_url": "https://example.com/upstream/practice/pull/7"}`))

		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "no route"}`))
		}
	})
}

func newTestEngine(t *testing.T, baseURL string, observer Observer) *Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	hostCfg := config.HostingConfig{
		BaseURL:                 baseURL,
		RateLimitPerMinute:      6000,
		HTTPTimeoutSeconds:      5,
		PropagationDelaySeconds: 1,
		PropagationMaxAttempts:  3,
	}
	contrib := config.ContributionConfig{
		UpstreamOwner: "upstream",
		UpstreamRepo:  "practice",
		LedgerPath:    "CONTRIBUTORS.md",
		BaseBranch:    "main",
	}
	learner := config.LearnerConfig{
		Login:       "learner",
		DisplayName: "Lea R. Ner",
	}

	client := hosting.NewClient(hostCfg, "test-token", ratelimit.NewPool(), logger)
	engine := New(client, contrib, hostCfg, learner, observer, logger)
	engine.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return engine
}

func TestRun_Succeeds(t *testing.T) {
	api := newMockAPI("# Contributors\n- [@alice](https://github.com/alice) - Alice (2026-01-15)\n")
	api.forkStatus = http.StatusConflict // fork already exists

	server := httptest.NewServer(api.handler())
	defer server.Close()

	var steps []Step
	engine := newTestEngine(t, server.URL, func(step Step, label string) {
		steps = append(steps, step)
		if label == "" {
			t.Errorf("Step %s has no label", step)
		}
	})

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("Expected success, got failure: %v", result.Failure)
	}
	if result.PullRequestURL != "https://example.com/upstream/practice/pull/7" {
		t.Errorf("Unexpected PR URL %q", result.PullRequestURL)
	}

	want := []Step{StepForking, StepAwaitingPropagation, StepReadingLedger,
		StepCheckingDuplicate, StepCommitting, StepCreatingPR, StepSucceeded}
	if len(steps) != len(want) {
		t.Fatalf("Expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("Expected steps %v, got %v", want, steps)
		}
	}

	if !strings.Contains(api.ledger, "[@learner]") {
		t.Errorf("Expected ledger to contain the new entry, got:\n%s", api.ledger)
	}
}

func TestRun_DuplicateShortCircuitsBeforeWrite(t *testing.T) {
	api := newMockAPI("- [@learner](https://github.com/learner) - Lea R. Ner (2026-01-01)\n")
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("Expected failure")
	}
	if result.Failure.Kind != FailureDuplicate {
		t.Errorf("Expected duplicate_submission, got %s", result.Failure.Kind)
	}
	if result.Failure.Step != StepCheckingDuplicate {
		t.Errorf("Expected failure at checking_duplicate, got %s", result.Failure.Step)
	}
	if api.writeCalls != 0 {
		t.Errorf("Expected no write calls, got %d", api.writeCalls)
	}
	if api.prCalls != 0 {
		t.Errorf("Expected no PR calls, got %d", api.prCalls)
	}
}

func TestRun_StaleWriteIsFatal(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.writeStatus = http.StatusConflict

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("Expected failure")
	}
	if result.Failure.Kind != FailureConflict {
		t.Errorf("Expected conflict, got %s", result.Failure.Kind)
	}
	if result.Failure.Step != StepCommitting {
		t.Errorf("Expected failure at committing, got %s", result.Failure.Step)
	}
	if api.prCalls != 0 {
		t.Errorf("Expected no PR calls after stale write, got %d", api.prCalls)
	}
}

func TestRun_SecondRunIsDuplicate(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	first, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("First run error: %v", err)
	}
	if !first.Succeeded() {
		t.Fatalf("Expected first run to succeed, got %v", first.Failure)
	}

	second, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run error: %v", err)
	}
	if second.Succeeded() {
		t.Fatal("Expected second run to fail")
	}
	if second.Failure.Kind != FailureDuplicate {
		t.Errorf("Expected duplicate_submission, got %s", second.Failure.Kind)
	}
	if api.writeCalls != 1 {
		t.Errorf("Expected exactly one write across both runs, got %d", api.writeCalls)
	}
}

func TestRun_PropagationPollRetriesNotFound(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.notFoundReads = 2 // fork becomes readable on the third attempt

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("Expected success after propagation, got %v", result.Failure)
	}
	if api.readCalls != 3 {
		t.Errorf("Expected 3 read attempts, got %d", api.readCalls)
	}
}

func TestRun_PropagationDeadlineFailsNotFound(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.notFoundReads = 100 // never ready

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("Expected failure")
	}
	if result.Failure.Kind != FailureNotFound {
		t.Errorf("Expected not_found, got %s", result.Failure.Kind)
	}
	if api.readCalls != 3 {
		t.Errorf("Expected attempts capped at 3, got %d", api.readCalls)
	}
}

func TestRun_NonPositiveAttemptCapStillReadsOnce(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)
	engine.maxReadAttempts = -1

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("Expected success, got %v", result.Failure)
	}
	if api.readCalls != 1 {
		t.Errorf("Expected exactly one read attempt, got %d", api.readCalls)
	}
}

func TestRun_NonPositiveAttemptCapSurfacesNotFound(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.notFoundReads = 100

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)
	engine.maxReadAttempts = 0

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Succeeded() {
		t.Fatal("Expected failure")
	}
	if result.Failure.Kind != FailureNotFound {
		t.Errorf("Expected not_found, got %s", result.Failure.Kind)
	}
	if api.readCalls != 1 {
		t.Errorf("Expected exactly one read attempt, got %d", api.readCalls)
	}
}

func TestRun_RecordsEveryWorkingStepDuration(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)
	result, err := engine.Run(context.Background())
	if err != nil || !result.Succeeded() {
		t.Fatalf("Expected successful run, got err=%v failure=%v", err, result.Failure)
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	seen := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "firstmerge_workflow_step_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "step" {
					seen[l.GetValue()] = true
				}
			}
		}
	}

	for _, step := range []Step{StepForking, StepReadingLedger,
		StepCheckingDuplicate, StepCommitting, StepCreatingPR} {
		if !seen[string(step)] {
			t.Errorf("Expected a duration observation for step %s", step)
		}
	}
}

func TestRun_AuthFailureOnFork(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.forkStatus = http.StatusUnauthorized

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureAuth {
		t.Fatalf("Expected auth_failure, got %v", result.Failure)
	}
	if result.Failure.Step != StepForking {
		t.Errorf("Expected failure at forking, got %s", result.Failure.Step)
	}
	if api.readCalls != 0 {
		t.Errorf("Expected no reads after auth failure, got %d", api.readCalls)
	}
}

func TestRun_ExistingPRIsConflict(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	api.prStatus = http.StatusUnprocessableEntity

	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Failure == nil || result.Failure.Kind != FailureConflict {
		t.Fatalf("Expected conflict, got %v", result.Failure)
	}
	if result.Failure.Step != StepCreatingPR {
		t.Errorf("Expected failure at creating_pr, got %s", result.Failure.Step)
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	api := newMockAPI("# Contributors\n")
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine := newTestEngine(t, server.URL, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	done := make(chan *Result, 1)
	go func() {
		result, _ := engine.Run(context.Background())
		done <- result
	}()

	<-started
	if _, err := engine.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Expected ErrRunInProgress, got %v", err)
	}

	close(release)
	result := <-done
	if !result.Succeeded() {
		t.Fatalf("Expected first run to finish successfully, got %v", result.Failure)
	}

	// After the terminal state the engine accepts a new run (which now
	// trips the duplicate guard).
	second, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run after terminal state returned error: %v", err)
	}
	if second.Failure == nil || second.Failure.Kind != FailureDuplicate {
		t.Fatalf("Expected duplicate on re-run, got %v", second.Failure)
	}
}

func TestFailure_UserMessages(t *testing.T) {
	tests := []struct {
		failure *Failure
		phrase  string
	}{
		{&Failure{Kind: FailureAuth, Step: StepForking}, "token"},
		{&Failure{Kind: FailureDuplicate, Step: StepCheckingDuplicate}, "already completed"},
		{&Failure{Kind: FailureConflict, Step: StepCreatingPR}, "pull request"},
		{&Failure{Kind: FailureNotFound, Step: StepReadingLedger}, "contributors file"},
		{&Failure{Kind: FailureTransient, Step: StepForking}, "try again"},
	}

	for _, tt := range tests {
		msg := tt.failure.UserMessage()
		if !strings.Contains(strings.ToLower(msg), tt.phrase) {
			t.Errorf("UserMessage for %s = %q, expected to mention %q", tt.failure.Kind, msg, tt.phrase)
		}
	}
}
