package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/firstmerge/firstmerge/internal/applog"
	"github.com/firstmerge/firstmerge/internal/config"
	"github.com/firstmerge/firstmerge/internal/curriculum"
	"github.com/firstmerge/firstmerge/internal/hosting"
	"github.com/firstmerge/firstmerge/internal/progress"
	"github.com/firstmerge/firstmerge/internal/ratelimit"
	"github.com/firstmerge/firstmerge/internal/tutor"
	"github.com/firstmerge/firstmerge/internal/workflow"
	"github.com/firstmerge/firstmerge/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	stateDir   string
	verbose    bool

	interest      string
	skillLevel    string
	gitExperience string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "firstmerge",
		Short: "firstmerge - guided first open-source contribution",
		Long: `firstmerge walks you through a short curriculum on open-source
contribution and finishes by forking a practice repository, adding you to its
contributors file, and opening a real pull request on your behalf.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".firstmerge", "Directory for progress and logs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Start a fresh session",
		Long: `Create a new progress record with your selections. Credentials are read
from the environment (HOSTING_TOKEN or GITHUB_TOKEN, optionally CONTENT_API_KEY).`,
		RunE: runSetup,
	}
	setupCmd.Flags().StringVar(&interest, "interest", "", "What you want to contribute to (web, cli-tools, data, games, docs)")
	setupCmd.Flags().StringVar(&skillLevel, "skill", "", "Your programming skill level (beginner, intermediate, advanced)")
	setupCmd.Flags().StringVar(&gitExperience, "git-experience", "", "Your git experience (none, solo-projects, team-projects)")

	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Navigate the curriculum",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stages and which are unlocked",
		RunE:  runStageList,
	}

	advanceCmd := &cobra.Command{
		Use:   "advance <stage>",
		Short: "Advance to a stage",
		Long:  "Advance to the given stage. Only the current stage and the next one are valid targets; stages unlock strictly in order.",
		Args:  cobra.ExactArgs(1),
		RunE:  runStageAdvance,
	}

	gotoCmd := &cobra.Command{
		Use:   "goto <stage>",
		Short: "Revisit an unlocked stage",
		Args:  cobra.ExactArgs(1),
		RunE:  runStageGoto,
	}

	stageCmd.AddCommand(listCmd)
	stageCmd.AddCommand(advanceCmd)
	stageCmd.AddCommand(gotoCmd)

	explainCmd := &cobra.Command{
		Use:   "explain <stage>",
		Short: "Ask the tutor to explain a stage",
		Long:  "Generate an explanation of an unlocked stage, tailored to the selections from setup. Requires tutor.base_url in the config.",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	}

	contributeCmd := &cobra.Command{
		Use:   "contribute",
		Short: "Run the contribution workflow",
		Long: `Run the final stage: fork the practice repository, append your entry to
its contributors file, commit, and open a pull request. Requires the last
curriculum stage to be unlocked.`,
		RunE: runContribute,
	}

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Manage saved progress",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved progress record",
		RunE:  runProgressShow,
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all progress",
		RunE:  runProgressReset,
	}

	progressCmd.AddCommand(showCmd)
	progressCmd.AddCommand(resetCmd)

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(contributeCmd)
	rootCmd.AddCommand(progressCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is the shared setup every command needs: env file, config, secrets,
// state dir, logger.
type env struct {
	cfg     *config.Config
	secrets *config.Secrets
	mgr     *applog.Manager
	logger  *slog.Logger
	logFile *os.File
}

func (e *env) close() {
	if e.logFile != nil {
		_ = e.logFile.Sync()
		_ = e.logFile.Close()
	}
}

func setupEnv() (*env, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	mgr, err := applog.NewManager(stateDir, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	logger, logFile, err := applog.SetupLogger(mgr, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return &env{cfg: cfg, secrets: secrets, mgr: mgr, logger: logger, logFile: logFile}, nil
}

// openStore loads the persisted progress record, which must already exist.
func openStore(e *env) (*progress.Store, error) {
	if !progress.Exists(e.mgr.BaseDir()) {
		return nil, fmt.Errorf("no saved progress in %s: run `firstmerge setup` first", e.mgr.BaseDir())
	}
	return progress.Open(e.mgr.BaseDir(), e.logger)
}

func runSetup(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if progress.Exists(e.mgr.BaseDir()) {
		return fmt.Errorf("progress already exists in %s: use `firstmerge progress reset` to start over", e.mgr.BaseDir())
	}

	session := &models.Session{
		ContentKey:   e.secrets.ContentKey,
		HostingToken: e.secrets.HostingToken,
		Selections: models.Selections{
			Interest:      interest,
			SkillLevel:    skillLevel,
			GitExperience: gitExperience,
		},
	}

	store := progress.NewStore(e.mgr.BaseDir(), session, e.logger)
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}

	e.logger.Info("Session created",
		"interest", interest,
		"skill", skillLevel,
		"git_experience", gitExperience)
	fmt.Printf("Session created. Start with: firstmerge stage advance 1\n")
	return nil
}

func runStageList(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	machine := progress.NewMachine(store)
	p := store.Progress()

	for _, s := range curriculum.Stages {
		marker := "locked"
		switch {
		case p.IsCompleted(s.ID):
			marker = "completed"
		case s.ID == p.CurrentStage:
			marker = "current"
		case machine.Jump(s.ID) == nil:
			marker = "unlocked"
		}
		fmt.Printf("  [%d] %-24s %s\n", s.ID, s.Title, marker)
	}
	return nil
}

func parseStageArg(arg string) (models.StageID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 || n >= models.StageCount {
		return 0, fmt.Errorf("invalid stage %q: expected 0-%d", arg, models.StageCount-1)
	}
	return models.StageID(n), nil
}

func runStageAdvance(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	n, err := parseStageArg(args[0])
	if err != nil {
		return err
	}

	machine := progress.NewMachine(store)
	if err := machine.Advance(n); err != nil {
		if errors.Is(err, progress.ErrStageLocked) {
			return fmt.Errorf("stage %d is locked: complete the earlier stages first", n)
		}
		return err
	}

	stage := curriculum.Get(n)
	fmt.Printf("Now on stage %d: %s\n%s\n", n, stage.Title, stage.Summary)
	if n == models.StageContribute {
		fmt.Printf("\nYou're ready for the real thing: firstmerge contribute\n")
	}
	return nil
}

func runStageGoto(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	n, err := parseStageArg(args[0])
	if err != nil {
		return err
	}

	machine := progress.NewMachine(store)
	if err := machine.Jump(n); err != nil {
		if errors.Is(err, progress.ErrStageLocked) {
			return fmt.Errorf("stage %d is locked", n)
		}
		return err
	}

	stage := curriculum.Get(n)
	fmt.Printf("Stage %d: %s\n%s\n", n, stage.Title, stage.Summary)
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.Tutor.BaseURL == "" {
		return fmt.Errorf("tutor.base_url is not configured")
	}

	store, err := openStore(e)
	if err != nil {
		return err
	}
	n, err := parseStageArg(args[0])
	if err != nil {
		return err
	}

	machine := progress.NewMachine(store)
	if err := machine.Jump(n); err != nil {
		return fmt.Errorf("stage %d is locked", n)
	}

	p := store.Progress()
	stage := curriculum.Get(n)

	pool := ratelimit.NewPool()
	gen := tutor.NewClient(e.cfg.Tutor, p.Credentials.ContentKey, pool, e.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	systemPrompt := "You are a patient open-source mentor. Keep explanations short and concrete."
	userPrompt := fmt.Sprintf(
		"Explain the curriculum stage %q (%s) to a %s learner interested in %s with git experience: %s.",
		stage.Title, stage.Summary,
		orDefault(p.Selections.SkillLevel, "beginner"),
		orDefault(p.Selections.Interest, "any project"),
		orDefault(p.Selections.GitExperience, "none"))

	text, err := gen.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	fmt.Println(text)
	return nil
}

func runContribute(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	machine := progress.NewMachine(store)

	// The workflow is the final stage; it must be unlocked first.
	if err := machine.Jump(models.StageContribute); err != nil {
		return fmt.Errorf("the contribution stage is locked: advance through the curriculum first")
	}

	p := store.Progress()

	pool := ratelimit.NewPool()
	client := hosting.NewClient(e.cfg.Hosting, p.Credentials.HostingToken, pool, e.logger)

	// One bar tick per working step. Terminal steps only relabel; the bar is
	// sized for the six steps between Idle and the terminal state.
	bar := progressbar.Default(6, "Starting")
	observer := func(step workflow.Step, label string) {
		bar.Describe(label)
		if step != workflow.StepFailed && step != workflow.StepSucceeded {
			_ = bar.Add(1)
		}
	}

	engine := workflow.New(client, e.cfg.Contribution, e.cfg.Hosting, e.cfg.Learner, observer, e.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	_ = bar.Finish()
	fmt.Println()

	if !result.Succeeded() {
		fmt.Printf("%s\n", result.Failure.UserMessage())
		return fmt.Errorf("contribution failed at %s: %w", result.Failure.Step, result.Failure.Err)
	}

	// Mark the final stage complete; it stays navigable afterwards.
	if err := machine.Complete(models.StageContribute); err != nil {
		e.logger.Warn("Failed to record stage completion", "error", err)
	}

	fmt.Printf("Your pull request is open: %s\n", result.PullRequestURL)
	fmt.Printf("Completed in %s. Welcome to open source!\n", result.Stats.Duration.Round(time.Second))
	return nil
}

func runProgressShow(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	p := store.Progress()

	fmt.Printf("Session:    %s (created %s)\n", p.SessionID, p.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Printf("Stage:      %d (%s)\n", p.CurrentStage, curriculum.Get(p.CurrentStage).Title)
	fmt.Printf("Completed:  %d of %d stages\n", len(p.CompletedStages), models.StageCount-1)
	fmt.Printf("Selections: interest=%s skill=%s git=%s\n",
		orDefault(p.Selections.Interest, "-"),
		orDefault(p.Selections.SkillLevel, "-"),
		orDefault(p.Selections.GitExperience, "-"))
	return nil
}

func runProgressReset(cmd *cobra.Command, args []string) error {
	e, err := setupEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := openStore(e)
	if err != nil {
		return err
	}
	if err := store.Reset(); err != nil {
		return err
	}
	fmt.Println("Progress discarded.")
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// loadEnvFile loads KEY=VALUE pairs from a file into the environment.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}
