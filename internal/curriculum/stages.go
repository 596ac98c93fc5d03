// Package curriculum holds the static stage metadata the CLI renders and the
// selection vocabularies offered during setup.
package curriculum

import "github.com/firstmerge/firstmerge/pkg/models"

// Stage describes one unit of the curriculum.
type Stage struct {
	ID      models.StageID
	Title   string
	Summary string
}

// Stages lists every stage in unlock order. Stage 0 is setup; stage 4 runs
// the real contribution workflow and stays navigable after completion.
var Stages = []Stage{
	{
		ID:      models.StageSetup,
		Title:   "Setup",
		Summary: "Enter your credentials and tell us what you want to learn.",
	},
	{
		ID:      models.StageBasics,
		Title:   "Open Source Basics",
		Summary: "What a repository is, how projects are organized, and where contributions fit.",
	},
	{
		ID:      models.StageForking,
		Title:   "Forks and Branches",
		Summary: "Why you fork before you change anything, and what a branch buys you.",
	},
	{
		ID:      models.StageCommits,
		Title:   "Commits and Reviews",
		Summary: "Writing a commit the maintainers will accept, and what happens in review.",
	},
	{
		ID:      models.StageContribute,
		Title:   "Your First Pull Request",
		Summary: "Fork the practice repository, add yourself to the contributors file, and open a real pull request.",
	},
}

// Get returns the stage metadata for id, or a zero Stage if out of range.
func Get(id models.StageID) Stage {
	for _, s := range Stages {
		if s.ID == id {
			return s
		}
	}
	return Stage{}
}

// Selection vocabularies offered during setup. Free-form input is accepted
// too; these are the suggestions the UI lists.
var (
	Interests      = []string{"web", "cli-tools", "data", "games", "docs"}
	SkillLevels    = []string{"beginner", "intermediate", "advanced"}
	GitExperiences = []string{"none", "solo-projects", "team-projects"}
)
