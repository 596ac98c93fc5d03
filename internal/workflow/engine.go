// Package workflow drives the contribution automation: fork the practice
// repository, append the learner to the contributors file, commit, and open
// a pull request. Steps run strictly in order; any failure terminates the
// run and a later re-run recovers through the duplicate-submission guard.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firstmerge/firstmerge/internal/config"
	"github.com/firstmerge/firstmerge/internal/hosting"
	"github.com/firstmerge/firstmerge/internal/ledger"
	"github.com/firstmerge/firstmerge/internal/metrics"
	"github.com/firstmerge/firstmerge/pkg/models"
)

// ErrRunInProgress is returned by Run when a previous run has not reached a
// terminal state. One run at a time is an engine invariant, not a UI
// convention.
var ErrRunInProgress = errors.New("a workflow run is already in progress")

// HostingClient is the slice of the hosting API the engine drives.
type HostingClient interface {
	Fork(ctx context.Context, owner, repo string) error
	ReadFile(ctx context.Context, owner, repo, path string) (*hosting.FileContent, error)
	WriteFile(ctx context.Context, owner, repo, path, content, prevSHA, message string) (string, error)
	CreatePullRequest(ctx context.Context, owner, repo, head, base, title, body string) (string, error)
}

// Engine orchestrates one contribution run end to end.
type Engine struct {
	client   HostingClient
	contrib  config.ContributionConfig
	learner  config.LearnerConfig
	observer Observer
	logger   *slog.Logger

	// Fork propagation poll settings
	propagationDelay time.Duration
	maxReadAttempts  int

	// Injectable time hooks for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	running bool
}

// New creates a workflow engine. The observer may be nil.
func New(
	client HostingClient,
	contrib config.ContributionConfig,
	hostCfg config.HostingConfig,
	learner config.LearnerConfig,
	observer Observer,
	logger *slog.Logger,
) *Engine {
	if observer == nil {
		observer = func(Step, string) {}
	}

	return &Engine{
		client:           client,
		contrib:          contrib,
		learner:          learner,
		observer:         observer,
		logger:           logger.With("component", "workflow"),
		propagationDelay: time.Duration(hostCfg.PropagationDelaySeconds) * time.Second,
		maxReadAttempts:  hostCfg.PropagationMaxAttempts,
		sleep:            sleepCtx,
		now:              time.Now,
	}
}

// Run executes the workflow to a terminal state. A second Run while one is
// in flight returns ErrRunInProgress immediately. Business failures are
// carried in the Result, not the error: the caller decides how to present
// them and whether a retry makes sense.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrRunInProgress
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	// Fresh state for this run only; nothing survives the terminal notify.
	st := &runState{step: StepIdle}
	stats := models.RunStats{StartTime: e.now()}

	result := e.run(ctx, st)

	stats.EndTime = e.now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	result.Stats = stats

	if result.Succeeded() {
		metrics.RecordWorkflowRun("succeeded")
		e.notify(st, StepSucceeded)
		e.logger.Info("Workflow succeeded",
			"pull_request", result.PullRequestURL,
			"duration", stats.Duration)
	} else {
		metrics.RecordWorkflowRun(string(result.Failure.Kind))
		e.notify(st, StepFailed)
		e.logger.Error("Workflow failed",
			"step", result.Failure.Step,
			"kind", result.Failure.Kind,
			"error", result.Failure.Err)
	}

	return result, nil
}

func (e *Engine) run(ctx context.Context, st *runState) *Result {
	// Step 1: fork. An existing fork (Conflict) is the desired state, so
	// only credential and transport failures stop the run here.
	e.notify(st, StepForking)
	stepStart := e.now()
	err := e.client.Fork(ctx, e.contrib.UpstreamOwner, e.contrib.UpstreamRepo)
	metrics.RecordWorkflowStep(string(StepForking), e.now().Sub(stepStart))
	switch outcome := hosting.OutcomeOf(err); outcome {
	case hosting.OutcomeAuthFailure:
		return e.fail(st, FailureAuth, err)
	case hosting.OutcomeTransient:
		return e.fail(st, FailureTransient, err)
	default:
		if err != nil {
			e.logger.Debug("Fork outcome treated as success", "outcome", outcome)
		}
	}

	// Steps 2+3: the fork's default branch is not readable immediately, so
	// poll the ledger read with doubling delays instead of a blind wait.
	// NotFound only counts as "not ready" while attempts remain.
	e.notify(st, StepAwaitingPropagation)
	file, err := e.readWithPropagation(ctx, st)
	if err != nil {
		switch hosting.OutcomeOf(err) {
		case hosting.OutcomeAuthFailure:
			return e.fail(st, FailureAuth, err)
		case hosting.OutcomeNotFound:
			return e.fail(st, FailureNotFound, err)
		default:
			return e.fail(st, FailureTransient, err)
		}
	}
	st.fileSHA = file.SHA

	// Step 4: duplicate guard. An existing entry is a business-rule
	// rejection, never a fault, and must not look retry-worthy.
	e.notify(st, StepCheckingDuplicate)
	stepStart = e.now()
	entries := ledger.Parse(file.Content)
	duplicate := ledger.Contains(entries, e.learner.Login)
	metrics.RecordWorkflowStep(string(StepCheckingDuplicate), e.now().Sub(stepStart))
	if duplicate {
		return e.fail(st, FailureDuplicate,
			fmt.Errorf("identity %q already present in %s", e.learner.Login, e.contrib.LedgerPath))
	}

	// Step 5: append and commit against the SHA from the read above. A stale
	// SHA is fatal for the run; concurrent edits during a learner-driven
	// flow are out of scope, so no re-read-and-retry.
	e.notify(st, StepCommitting)
	entry := models.ContributorEntry{
		Identity:    e.learner.Login,
		DisplayName: e.learner.DisplayName,
		Date:        e.now().Format("2006-01-02"),
	}
	newContent := ledger.Append(file.Content, entry)
	commitMsg := fmt.Sprintf("Add %s to %s", e.learner.Login, e.contrib.LedgerPath)

	stepStart = e.now()
	commitSHA, err := e.client.WriteFile(ctx,
		e.learner.Login, e.contrib.UpstreamRepo, e.contrib.LedgerPath,
		newContent, st.fileSHA, commitMsg)
	metrics.RecordWorkflowStep(string(StepCommitting), e.now().Sub(stepStart))
	if err != nil {
		switch hosting.OutcomeOf(err) {
		case hosting.OutcomeAuthFailure:
			return e.fail(st, FailureAuth, err)
		case hosting.OutcomeConflict:
			return e.fail(st, FailureConflict, err)
		case hosting.OutcomeNotFound:
			return e.fail(st, FailureNotFound, err)
		default:
			return e.fail(st, FailureTransient, err)
		}
	}
	st.commitSHA = commitSHA

	// Step 6: open the pull request. An already-existing PR surfaces as a
	// distinct Conflict, not silent success: the learner needs to know.
	e.notify(st, StepCreatingPR)
	head := fmt.Sprintf("%s:%s", e.learner.Login, e.contrib.BaseBranch)
	title := fmt.Sprintf("Add %s to the contributors list", e.learner.Login)
	body := fmt.Sprintf("Adds @%s to %s. Opened by firstmerge as the final stage of the tutorial.",
		e.learner.Login, e.contrib.LedgerPath)

	stepStart = e.now()
	prURL, err := e.client.CreatePullRequest(ctx,
		e.contrib.UpstreamOwner, e.contrib.UpstreamRepo,
		head, e.contrib.BaseBranch, title, body)
	metrics.RecordWorkflowStep(string(StepCreatingPR), e.now().Sub(stepStart))
	if err != nil {
		switch hosting.OutcomeOf(err) {
		case hosting.OutcomeAuthFailure:
			return e.fail(st, FailureAuth, err)
		case hosting.OutcomeConflict:
			return e.fail(st, FailureConflict, err)
		default:
			return e.fail(st, FailureTransient, err)
		}
	}
	st.prURL = prURL

	return &Result{PullRequestURL: prURL}
}

// readWithPropagation reads the ledger from the learner's fork, treating
// NotFound as "fork not ready yet" up to maxReadAttempts, with the delay
// doubling between attempts. The final NotFound is returned as-is.
func (e *Engine) readWithPropagation(ctx context.Context, st *runState) (*hosting.FileContent, error) {
	delay := e.propagationDelay

	// At least one read always runs, whatever the configured attempt cap
	// says. Returning without an attempt would hand the caller neither a
	// file nor an error.
	attempts := e.maxReadAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}

		if attempt == 1 {
			e.notify(st, StepReadingLedger)
		}

		stepStart := e.now()
		file, err := e.client.ReadFile(ctx, e.learner.Login, e.contrib.UpstreamRepo, e.contrib.LedgerPath)
		metrics.RecordWorkflowStep(string(StepReadingLedger), e.now().Sub(stepStart))
		if err == nil {
			return file, nil
		}

		lastErr = err
		if hosting.OutcomeOf(err) != hosting.OutcomeNotFound {
			return nil, err
		}

		e.logger.Debug("Fork not readable yet",
			"attempt", attempt,
			"max_attempts", attempts,
			"next_delay", delay*2)
		delay *= 2
	}

	return nil, lastErr
}

// notify records the step transition and informs the observer before the
// corresponding call is attempted.
func (e *Engine) notify(st *runState, step Step) {
	st.step = step
	e.logger.Info("Workflow step", "step", step)
	e.observer(step, stepLabels[step])
}

func (e *Engine) fail(st *runState, kind FailureKind, err error) *Result {
	st.lastErr = err
	return &Result{Failure: &Failure{Kind: kind, Step: st.step, Err: err}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
