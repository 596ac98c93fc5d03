package workflow

import (
	"fmt"

	"github.com/firstmerge/firstmerge/pkg/models"
)

// Step identifies a phase of the contribution workflow. Steps are strictly
// ordered; the only backward edge is into StepFailed.
type Step string

const (
	StepIdle                Step = "idle"
	StepForking             Step = "forking"
	StepAwaitingPropagation Step = "awaiting_propagation"
	StepReadingLedger       Step = "reading_ledger"
	StepCheckingDuplicate   Step = "checking_duplicate"
	StepCommitting          Step = "committing"
	StepCreatingPR          Step = "creating_pr"
	StepSucceeded           Step = "succeeded"
	StepFailed              Step = "failed"
)

// stepLabels are the human-readable phase labels handed to the observer
// before each step runs.
var stepLabels = map[Step]string{
	StepForking:             "Forking the practice repository",
	StepAwaitingPropagation: "Waiting for your fork to become readable",
	StepReadingLedger:       "Reading the contributors file from your fork",
	StepCheckingDuplicate:   "Checking for an existing entry",
	StepCommitting:          "Committing your entry",
	StepCreatingPR:          "Opening your pull request",
	StepSucceeded:           "Pull request opened",
	StepFailed:              "Workflow failed",
}

// Observer receives a status notification before each step attempt. It is a
// side-effecting callback for live progress display, never a control channel.
type Observer func(step Step, label string)

// FailureKind classifies a terminal failure so callers can distinguish
// "retry-worthy" from "never retry" without parsing messages.
type FailureKind string

const (
	FailureAuth      FailureKind = "auth_failure"
	FailureNotFound  FailureKind = "not_found"
	FailureConflict  FailureKind = "conflict"
	FailureDuplicate FailureKind = "duplicate_submission"
	FailureTransient FailureKind = "transient_failure"
)

// Failure is the terminal failure of a run.
type Failure struct {
	Kind FailureKind
	Step Step
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("workflow failed at %s (%s): %v", f.Step, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage returns guidance text suitable for showing the learner.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case FailureAuth:
		return "Your hosting token was rejected. Check that it has not expired and that its scope allows repository access."
	case FailureDuplicate:
		return "You already completed this contribution. Your entry is in the contributors file."
	case FailureNotFound:
		return "The contributors file could not be found in your fork. The practice repository may be misconfigured."
	case FailureConflict:
		if f.Step == StepCreatingPR {
			return "A pull request for your entry already exists. Check your open pull requests."
		}
		return "The contributors file changed while your entry was being prepared. Run the workflow again."
	default:
		return "Something went wrong talking to the hosting service. Wait a moment and try again."
	}
}

// Result is the terminal outcome of one run. Exactly one of PullRequestURL
// and Failure is set.
type Result struct {
	PullRequestURL string
	Failure        *Failure
	Stats          models.RunStats
}

// Succeeded reports whether the run reached the terminal success state.
func (r *Result) Succeeded() bool {
	return r.Failure == nil
}

// runState is the in-memory state of a single run. It is created fresh at
// Run and dropped when the run terminates; there is no resumption.
type runState struct {
	step      Step
	fileSHA   string
	commitSHA string
	prURL     string
	lastErr   error
}
