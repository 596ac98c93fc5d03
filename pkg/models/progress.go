package models

import "time"

// StageID identifies one unit of the curriculum. Stage 0 is setup; stages
// 1 through 4 are the teaching modules, unlocked strictly in order.
type StageID int

const (
	StageSetup StageID = iota
	StageBasics
	StageForking
	StageCommits
	StageContribute

	// StageCount is the number of stages including setup.
	StageCount = 5
)

// Progress is the persisted record of curriculum completion for one learner.
//
// Invariant: CurrentStage is either 0 or exactly one greater than the highest
// completed stage at the time it was set. Stages cannot be skipped.
type Progress struct {
	// Session identification
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastSavedAt time.Time `json:"last_saved_at"`

	CurrentStage    StageID   `json:"current_stage"`
	CompletedStages []StageID `json:"completed_stages"`

	// Credentials live only as long as the progress record does.
	Credentials ProgressCredentials `json:"credentials"`
	Selections  Selections          `json:"selections"`
}

// ProgressCredentials is the durable shape of the session credentials.
type ProgressCredentials struct {
	ContentKey   string `json:"content_key"`
	HostingToken string `json:"hosting_token"`
}

// IsCompleted reports whether stage n has been marked complete.
func (p *Progress) IsCompleted(n StageID) bool {
	for _, s := range p.CompletedStages {
		if s == n {
			return true
		}
	}
	return false
}

// MaxCompleted returns the highest completed stage, or -1 if none.
func (p *Progress) MaxCompleted() StageID {
	max := StageID(-1)
	for _, s := range p.CompletedStages {
		if s > max {
			max = s
		}
	}
	return max
}

// Session reconstructs an in-memory session from the persisted record.
func (p *Progress) Session() *Session {
	return &Session{
		ContentKey:   p.Credentials.ContentKey,
		HostingToken: p.Credentials.HostingToken,
		Selections:   p.Selections,
	}
}
