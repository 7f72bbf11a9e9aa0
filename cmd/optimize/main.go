// Package main provides Nelder-Mead tuning of behaviour probabilities so that
// a scenario's mean final grain counts approach target values.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/grainsim/config"
	"github.com/pthm-cable/grainsim/model"
	"github.com/pthm-cable/grainsim/telemetry"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// evalRecord is one parameter of one evaluation in optimize_log.csv.
type evalRecord struct {
	Eval        int     `csv:"eval"`
	Fitness     float64 `csv:"fitness"`
	Behaviour   string  `csv:"behaviour"`
	Probability float64 `csv:"probability"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize <scenario.yaml>",
		Short: "Tune behaviour probabilities towards target grain counts",
		Long: `Tune behaviour probabilities with Nelder-Mead so that the mean final
grain counts over several seeds approach the targets.

Example:
  optimize scenario.yaml --target Tree=3000 --target Fire=50 --output tuned/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, args[0])
		},
	}

	cmd.Flags().String("config", "", "Base config YAML file (empty = use defaults)")
	cmd.Flags().String("output", "", "Output directory for results")
	cmd.Flags().StringToInt("target", nil, "Target final count per grain name (repeatable)")
	cmd.Flags().StringSlice("behaviours", nil, "Behaviours to tune (default all)")
	cmd.Flags().Int("steps", 0, "Steps per run (0 = use config)")
	cmd.Flags().Int("seeds", 3, "Number of seeds per evaluation")
	cmd.Flags().Int("max-evals", 200, "Maximum number of evaluations")
	cmd.Flags().Float64("min-prob", 0.001, "Lower probability bound")
	cmd.Flags().Float64("max-prob", 1, "Upper probability bound")

	return cmd
}

func runOptimize(cmd *cobra.Command, scenarioPath string) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	outputDir, _ := flags.GetString("output")
	targetNames, _ := flags.GetStringToInt("target")
	names, _ := flags.GetStringSlice("behaviours")
	steps, _ := flags.GetInt("steps")
	seeds, _ := flags.GetInt("seeds")
	maxEvals, _ := flags.GetInt("max-evals")
	lo, _ := flags.GetFloat64("min-prob")
	hi, _ := flags.GetFloat64("max-prob")

	if outputDir == "" {
		return fmt.Errorf("--output is required")
	}
	if len(targetNames) == 0 {
		return fmt.Errorf("at least one --target is required")
	}

	if err := config.Init(configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Cfg()
	log := telemetry.LoggerFromConfig(cmd.ErrOrStderr(), cfg)
	if steps == 0 {
		steps = cfg.Engine.Steps
	}

	// Create output directory
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	sc, err := model.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	if sc.Grid.Width == 0 && sc.Grid.Height == 0 {
		sc.Grid = cfg.Grid
	}
	sc.Grid = sc.Grid.Normalize()

	targets := make(map[model.GrainID]float64, len(targetNames))
	for name, n := range targetNames {
		id, err := sc.Model.GrainByName(name)
		if err != nil {
			return fmt.Errorf("target %q: %w", name, err)
		}
		targets[id] = float64(n)
	}

	params, err := NewParamVector(sc.Model, names, lo, hi)
	if err != nil {
		return err
	}

	// Generate seeds for evaluation
	evalSeeds := make([]uint64, seeds)
	for i := range evalSeeds {
		evalSeeds[i] = uint64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, sc, cfg, steps, evalSeeds, targets)

	// Open log file
	logPath := filepath.Join(outputDir, "optimize_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()
	headerWritten := false

	// Track evaluations and timing
	evalCount := 0
	bestFitness := 1e9
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// Denormalize and clamp to get actual parameter values
			clamped := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(clamped)
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			records := make([]evalRecord, len(clamped))
			for i, spec := range params.Specs {
				records[i] = evalRecord{Eval: evalCount, Fitness: fitness, Behaviour: spec.Name, Probability: clamped[i]}
			}
			var werr error
			if !headerWritten {
				werr = gocsv.Marshal(records, logFile)
				headerWritten = true
			} else {
				werr = gocsv.MarshalWithoutHeaders(records, logFile)
			}
			if werr != nil {
				log.Error("failed to write evaluation log", "error", werr)
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(maxEvals-evalCount) * avgPerEval
			log.Info("evaluation",
				"eval", evalCount,
				"fitness", fitness,
				"best", bestFitness,
				"elapsed", formatDuration(elapsed),
				"eta", formatDuration(remaining),
			)
			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
	}
	method := &optimize.NelderMead{
		SimplexSize: 0.2,
	}

	initX := params.Normalize(params.DefaultVector())
	log.Info("starting Nelder-Mead optimization",
		"params", params.Dim(),
		"max_evals", maxEvals,
		"seeds", seeds,
		"steps", steps,
	)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Warn("optimization ended", "error", err)
	}

	// Use best params found (may be from any evaluation, not just final)
	if bestParams == nil {
		if result == nil {
			return fmt.Errorf("optimization produced no evaluations: %w", err)
		}
		bestParams = params.Clamp(params.Denormalize(result.X))
	}

	totalTime := time.Since(startTime)
	log.Info("optimization complete",
		"evaluations", evalCount,
		"elapsed", formatDuration(totalTime),
		"best_fitness", bestFitness,
	)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Best probabilities:")
	for i, spec := range params.Specs {
		fmt.Fprintf(out, "  %s: %.6f\n", spec.Name, bestParams[i])
	}

	// Save best model
	best := params.ApplyToModel(sc.Model, bestParams)
	modelOutPath := filepath.Join(outputDir, "best_model.yaml")
	if err := best.WriteYAML(modelOutPath); err != nil {
		return fmt.Errorf("failed to write best model: %w", err)
	}
	fmt.Fprintf(out, "Best model saved to: %s\n", modelOutPath)
	log.Debug("optimize log written", "path", logPath)
	return nil
}
