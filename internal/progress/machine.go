package progress

import (
	"errors"
	"fmt"

	"github.com/firstmerge/firstmerge/internal/metrics"
	"github.com/firstmerge/firstmerge/pkg/models"
)

// ErrStageLocked is returned when a transition targets a stage the learner
// has not unlocked. Targets unlock strictly in order; there is no skipping.
var ErrStageLocked = errors.New("stage is locked")

// Machine is the pure transition logic over the progress store. It decides
// what is navigable; rendering the chosen stage is the caller's job.
type Machine struct {
	store *Store
}

// NewMachine creates a state machine bound to a store.
func NewMachine(store *Store) *Machine {
	return &Machine{store: store}
}

// Current returns the active stage.
func (m *Machine) Current() models.StageID {
	return m.store.Progress().CurrentStage
}

// Advance moves the learner forward to stage n. Valid only when n re-affirms
// the current stage or is the immediate next one; anything further is locked.
// On success the preceding stage is marked complete and the record persisted.
func (m *Machine) Advance(n models.StageID) error {
	p := m.store.Progress()

	if n < 0 || n >= models.StageCount {
		metrics.RecordStageTransition("advance", false)
		return fmt.Errorf("advance to stage %d: %w", n, ErrStageLocked)
	}
	if n != p.CurrentStage && n != p.CurrentStage+1 {
		metrics.RecordStageTransition("advance", false)
		return fmt.Errorf("advance to stage %d from %d: %w", n, p.CurrentStage, ErrStageLocked)
	}

	err := m.store.update(func(p *models.Progress) {
		if n > 0 && !p.IsCompleted(n-1) {
			p.CompletedStages = append(p.CompletedStages, n-1)
		}
		p.CurrentStage = n
	})
	metrics.RecordStageTransition("advance", err == nil)
	return err
}

// Complete marks stage n itself complete without moving off it. Used for the
// final stage, which has no successor to advance into and stays navigable.
func (m *Machine) Complete(n models.StageID) error {
	p := m.store.Progress()

	if n != p.CurrentStage {
		return fmt.Errorf("complete stage %d while on %d: %w", n, p.CurrentStage, ErrStageLocked)
	}

	return m.store.update(func(p *models.Progress) {
		if !p.IsCompleted(n) {
			p.CompletedStages = append(p.CompletedStages, n)
		}
	})
}

// Jump validates navigation to stage n without changing completion state.
// n is navigable when it is the setup stage, a completed stage, or the
// current one. A locked target returns ErrStageLocked; the caller simply
// declines to navigate.
func (m *Machine) Jump(n models.StageID) error {
	p := m.store.Progress()

	ok := n == models.StageSetup || n == p.CurrentStage || p.IsCompleted(n)
	metrics.RecordStageTransition("jump", ok)
	if !ok {
		return fmt.Errorf("jump to stage %d: %w", n, ErrStageLocked)
	}
	return nil
}

// Unlocked returns the stages currently navigable, in order.
func (m *Machine) Unlocked() []models.StageID {
	p := m.store.Progress()

	var out []models.StageID
	for n := models.StageID(0); n < models.StageCount; n++ {
		if n == models.StageSetup || n == p.CurrentStage || p.IsCompleted(n) {
			out = append(out, n)
		}
	}
	return out
}
