package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remedy/internal/agent"
	"remedy/internal/config"
	"remedy/internal/corpus"
	"remedy/internal/failure"
	"remedy/internal/llm"
	"remedy/internal/orchestrate"
	"remedy/internal/patch"
	"remedy/internal/rank"
	"remedy/internal/report"
	"remedy/internal/runner"
	"remedy/internal/scan"
)

var (
	runRepo    string
	runCorpus  string
	runPatches string
	runBattery string
	runBudget  string
	runNoAgent bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one bounded repair pass against a repository",
	Long: `Executes the full repair pipeline: scan the repository, run the test
battery, extract failure signals, match them against the defect corpus, apply
adapted patches, retest, and fall back to unguided LLM repair if needed.

Exit codes: 0 when the final test pass is green, 1 when failures remain or
the budget ran out, 2 on infrastructure errors.`,
	RunE: runRepair,
}

func init() {
	runCmd.Flags().StringVar(&runRepo, "repo", "", "target repository checkout (required)")
	runCmd.Flags().StringVar(&runCorpus, "corpus", "", "defect corpus index JSON (overrides config)")
	runCmd.Flags().StringVar(&runPatches, "patches", "", "patch body store: directory or sqlite db (overrides config)")
	runCmd.Flags().StringVar(&runBattery, "battery", "", "test battery YAML (overrides config)")
	runCmd.Flags().StringVar(&runBudget, "budget", "", "wall-clock budget, e.g. 10m (overrides config)")
	runCmd.Flags().BoolVar(&runNoAgent, "no-agent", false, "disable the unguided LLM fallback")
	_ = runCmd.MarkFlagRequired("repo")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".remedy", "remedy.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if runCorpus != "" {
		cfg.Corpus.IndexPath = runCorpus
	}
	if runPatches != "" {
		cfg.Corpus.PatchStore = runPatches
	}
	if runBattery != "" {
		cfg.Runner.BatteryPath = runBattery
	}
	if runBudget != "" {
		cfg.Orchestrator.Budget = runBudget
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	records, stats, err := corpus.LoadRecords(cfg.Corpus.IndexPath)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	logger.Info("corpus loaded",
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected))

	bodies := corpus.OpenBodyStore(cfg.Corpus.PatchStore)
	defer bodies.Close()

	adapter := patch.NewAdapter()
	adapter.Fuzz = cfg.Adapter.FuzzTolerance

	var repairAgent agent.Agent
	if cfg.Agent.Enabled && !runNoAgent {
		client, err := llm.New(cfg.LLM, cfg.GetLLMTimeout())
		if err != nil {
			return fmt.Errorf("llm backend: %w", err)
		}
		la := agent.NewLLMAgent(client, adapter)
		la.MaxFailures = cfg.Agent.MaxPromptFailures
		la.PromptDir = filepath.Join(workspace, ".remedy", "prompts")
		repairAgent = la
	}

	shellRunner := runner.NewShellRunner()
	shellRunner.DefaultTimeout = cfg.GetRunnerTimeout()

	o := &orchestrate.Orchestrator{
		Scanner:   scan.NewFSScanner(),
		Generator: runner.NewBatteryGenerator(cfg.Runner.BatteryPath),
		Runner:    shellRunner,
		Extractor: failure.NewExtractor(cfg.Orchestrator.Environment),
		Index:     corpus.NewIndex(records, cfg.Corpus.PrefixLen),
		Bodies:    bodies,
		Ranker: &rank.Ranker{
			TopK:      cfg.Ranker.TopK,
			MinScore:  cfg.Ranker.MinScore,
			PrefixLen: cfg.Corpus.PrefixLen,
		},
		Adapter:              adapter,
		Agent:                repairAgent,
		Budget:               cfg.GetBudget(),
		MaxCandidatesPerCase: cfg.Orchestrator.MaxCandidatesPerCase,
	}

	st, runErr := o.Run(cmd.Context(), runRepo)

	summary := report.Build(st)
	sink := report.NewFileSink(filepath.Join(workspace, ".remedy", "runs"))
	if path, werr := sink.Write(cmd.Context(), summary); werr != nil {
		logger.Warn("failed to persist report", zap.Error(werr))
	} else {
		logger.Info("report written", zap.String("path", path))
	}

	if runErr != nil {
		return runErr
	}

	fmt.Printf("%s: %s (%d/%d cases failing, %d patches applied)\n",
		st.RunID, st.TerminalReason, st.FailedCases, st.TotalCases, len(st.AppliedPatches))
	if !summary.Succeeded() {
		exitCode = 1
	}
	return nil
}
