package models

import "time"

// Selections holds the choices the learner makes during setup. They steer
// which examples the tutor generates but have no effect on stage unlocking.
type Selections struct {
	Interest      string `json:"interest"`
	SkillLevel    string `json:"skill_level"`
	GitExperience string `json:"git_experience"`
}

// Session holds the credentials and selections for one learner session.
// It is passed explicitly to every component that needs it; there is no
// process-wide session singleton.
type Session struct {
	// ContentKey authorizes the text-generation endpoint.
	ContentKey string
	// HostingToken authorizes the repository-hosting API.
	HostingToken string
	Selections   Selections
}

// ContributorEntry is one completion record in the contributors ledger.
// Identity is the learner's hosting login and is unique across the ledger.
type ContributorEntry struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Date        string `json:"date"`
}

// RunStats tracks timing for a single workflow run.
type RunStats struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
