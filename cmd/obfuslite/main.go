// Package main provides the obfuslite CLI.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"obfuslite/internal/batch"
	"obfuslite/internal/codec"
	"obfuslite/internal/digest"
	"obfuslite/internal/graph"
	"obfuslite/internal/ledger"
	"obfuslite/internal/parse"
	"obfuslite/internal/pipeline"
	"obfuslite/internal/project"
)

// Version is the current obfuslite CLI version
var Version = "0.3.1"

const defaultLedgerFile = ".obfuslite/runs.db"

var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "obfuslite",
})

var rootCmd = &cobra.Command{
	Use:     "obfuslite",
	Short:   "Obfuslite - layered, reversible Python source obfuscation",
	Long:    `Obfuslite merges multi-file Python projects into one module, runs the text through a stack of reversible encoding layers, and emits a standalone artifact that reconstructs and executes the original at run time.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			logger.SetLevel(log.DebugLevel)
		}
	},
}

var obfuscateCmd = &cobra.Command{
	Use:   "obfuscate <file.py> [more.py...]",
	Short: "Obfuscate one or more Python files into a standalone artifact",
	Long: `Obfuscate Python source into a self-contained executable artifact.

Multiple input files are merged first: imports between them are resolved,
dependency order is computed, and the bodies are concatenated into one
module. The merged text then passes through the encoding stack.

Examples:
  obfuslite obfuscate app.py -o app_obf.py
  obfuslite obfuscate app.py utils.py -t xor -t base64 -l 4 -o app_obf.py
  obfuslite obfuscate app.py --seed 42 --bundle app.bundle.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runObfuscate,
}

var deobfuscateCmd = &cobra.Command{
	Use:   "deobfuscate <bundle.json>",
	Short: "Recover the original source from a recorded bundle",
	Long: `Recover the merged source text from a bundle written by
'obfuscate --bundle'. The bundle holds the encoded payload and the metadata
trail; the trail is replayed in reverse and the result is checked against
the recorded source digest.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeobfuscate,
}

var combineCmd = &cobra.Command{
	Use:   "combine <file.py> [more.py...]",
	Short: "Merge Python files into one module without encoding",
	Long: `Merge multiple Python files into a single module and print the result.

This runs only the dependency-resolution stage: local imports are stripped,
external imports are hoisted and deduplicated, and unit bodies are emitted
in dependency order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCombine,
}

var batchCmd = &cobra.Command{
	Use:   "batch [manifest]",
	Short: "Run every job in a batch manifest",
	Long: `Run all jobs declared in a YAML manifest through the worker pool.

The manifest declares a unit root, per-job glob patterns, techniques,
layers, and outputs. Completed runs are recorded in the run ledger.

Example manifest:
  root: src
  defaults:
    techniques: [xor, base64]
    layers: 3
  jobs:
    - name: app
      units: ["**/*.py"]
      output: dist/app.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

var techniquesCmd = &cobra.Command{
	Use:   "techniques",
	Short: "List the available encoding techniques",
	RunE:  runTechniques,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded batch runs",
	RunE:  runRuns,
}

var runsArtifactCmd = &cobra.Command{
	Use:   "artifact <run-id>",
	Short: "Print the artifact stored for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsArtifact,
}

var (
	verboseFlag bool

	obfTechniques []string
	obfLayers     int
	obfSeed       int64
	obfOutput     string
	obfBundle     string
	obfAnnotate   bool

	deobfOutput string

	combineOutput   string
	combineAnnotate bool

	batchWorkers int
	batchTimeout time.Duration
	batchLedger  string

	runsLedger string
	runsLimit  int
	runsOutput string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	obfuscateCmd.Flags().StringArrayVarP(&obfTechniques, "technique", "t", []string{"xor"}, "Encoding technique (repeatable; cycled across layers)")
	obfuscateCmd.Flags().IntVarP(&obfLayers, "layers", "l", 2, "Number of encoding layers (1-10)")
	obfuscateCmd.Flags().Int64Var(&obfSeed, "seed", -1, "Run seed for reproducible output (default: random)")
	obfuscateCmd.Flags().StringVarP(&obfOutput, "output", "o", "", "Artifact output path (default: <first-input>_obf.py)")
	obfuscateCmd.Flags().StringVar(&obfBundle, "bundle", "", "Also write a reversal bundle (payload + trail) to this path")
	obfuscateCmd.Flags().BoolVar(&obfAnnotate, "annotate", false, "Annotate merged units with origin comments")

	deobfuscateCmd.Flags().StringVarP(&deobfOutput, "output", "o", "", "Recovered source output path (default: stdout)")

	combineCmd.Flags().StringVarP(&combineOutput, "output", "o", "", "Merged output path (default: stdout)")
	combineCmd.Flags().BoolVar(&combineAnnotate, "annotate", false, "Annotate merged units with origin comments")

	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Worker pool size (default: one per CPU)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "Per-job timeout (default: none)")
	batchCmd.Flags().StringVar(&batchLedger, "ledger", defaultLedgerFile, "Run ledger database path (empty to disable)")

	runsCmd.Flags().StringVar(&runsLedger, "ledger", defaultLedgerFile, "Run ledger database path")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	runsArtifactCmd.Flags().StringVarP(&runsOutput, "output", "o", "", "Artifact output path (default: stdout)")

	runsCmd.AddCommand(runsArtifactCmd)
	rootCmd.AddCommand(obfuscateCmd, deobfuscateCmd, combineCmd, batchCmd, techniquesCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// unitName derives a module name from a CLI input path: base name without
// the extension.
func unitName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".py")
}

func loadUnits(paths []string) ([]batch.UnitSource, error) {
	units := make([]batch.UnitSource, 0, len(paths))
	seen := make(map[string]bool)
	for _, path := range paths {
		name := unitName(path)
		if seen[name] {
			return nil, fmt.Errorf("duplicate unit name %q (from %s)", name, path)
		}
		seen[name] = true
		units = append(units, batch.UnitSource{Name: name, Path: path})
	}
	return units, nil
}

func runObfuscate(cmd *cobra.Command, args []string) error {
	units, err := loadUnits(args)
	if err != nil {
		return err
	}

	output := obfOutput
	if output == "" {
		first := args[0]
		output = strings.TrimSuffix(first, ".py") + "_obf.py"
	}

	job := batch.Job{
		Name:       unitName(args[0]),
		Units:      units,
		Techniques: obfTechniques,
		Layers:     obfLayers,
		Output:     output,
		Annotate:   obfAnnotate,
	}
	if obfSeed >= 0 {
		seed := obfSeed
		job.Seed = &seed
	}

	res := batch.Run(cmd.Context(), []batch.Job{job}, batch.Options{Workers: 1, Logger: logger})[0]
	if res.Status != batch.StatusSuccess {
		return fmt.Errorf("obfuscation failed (%s): %w", res.Status, res.Err)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Detail)
	}

	if obfBundle != "" {
		if err := writeBundle(obfBundle, res); err != nil {
			return err
		}
		fmt.Printf("Bundle written to %s\n", obfBundle)
	}

	fmt.Printf("Obfuscated %d unit(s) -> %s\n", len(units), output)
	fmt.Printf("  seed:       %d\n", res.Seed)
	fmt.Printf("  techniques: %s\n", strings.Join(res.Techniques, ", "))
	fmt.Printf("  layers:     %d\n", res.Layers)
	fmt.Printf("  size:       %d -> %d bytes\n", res.OriginalSize, res.ObfuscatedSize)
	return nil
}

// writeBundle serializes the forward pass record: payload, trail, seed, and
// source digest. The bundle is everything 'deobfuscate' needs.
func writeBundle(path string, res batch.Result) error {
	if res.Pipeline == nil {
		return fmt.Errorf("run produced no pipeline record")
	}
	raw, err := json.MarshalIndent(res.Pipeline, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling bundle: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	return nil
}

func runDeobfuscate(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	var result pipeline.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parsing bundle: %w", err)
	}

	reg := codec.NewRegistry()
	text, err := pipeline.ReverseResult(reg, &result)
	if err != nil {
		return fmt.Errorf("reversing: %w", err)
	}

	if result.SourceDigest != "" {
		if got := digest.Blake3Hex([]byte(text)); got != result.SourceDigest {
			return fmt.Errorf("recovered text digest %s does not match recorded %s", got, result.SourceDigest)
		}
		logger.Debug("source digest verified", "digest", result.SourceDigest)
	}

	if deobfOutput == "" {
		fmt.Print(text)
		return nil
	}
	if err := os.WriteFile(deobfOutput, []byte(text), 0644); err != nil {
		return fmt.Errorf("writing recovered source: %w", err)
	}
	fmt.Printf("Recovered source written to %s\n", deobfOutput)
	return nil
}

func runCombine(cmd *cobra.Command, args []string) error {
	parser := parse.New()
	var units []*parse.Unit
	var missing []string

	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		unit, err := parser.Parse(unitName(path), string(raw))
		if err != nil {
			logger.Warn("unit excluded", "unit", unitName(path), "err", err)
			missing = append(missing, unitName(path))
			continue
		}
		units = append(units, unit)
	}

	merged, err := graph.Merge(units, graph.Options{Missing: missing, Annotate: combineAnnotate})
	if err != nil {
		return err
	}
	for _, w := range merged.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Detail)
	}

	if combineOutput == "" {
		fmt.Print(merged.Text)
		return nil
	}
	if err := os.WriteFile(combineOutput, []byte(merged.Text), 0644); err != nil {
		return fmt.Errorf("writing merged output: %w", err)
	}
	fmt.Printf("Merged %d unit(s) -> %s\n", len(units), combineOutput)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifestPath := "obfuslite.yaml"
	if len(args) == 1 {
		manifestPath = args[0]
	}

	manifest, err := project.Load(manifestPath)
	if err != nil {
		return err
	}
	jobs, err := manifest.Resolve()
	if err != nil {
		return err
	}

	workers := batchWorkers
	if workers == 0 {
		workers = manifest.Defaults.Workers
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting batch", "manifest", manifestPath, "jobs", len(jobs), "workers", workers)
	results := batch.Run(ctx, jobs, batch.Options{
		Workers:    workers,
		JobTimeout: batchTimeout,
		Logger:     logger,
	})

	var led *ledger.Ledger
	if batchLedger != "" {
		if err := os.MkdirAll(filepath.Dir(batchLedger), 0755); err != nil {
			return fmt.Errorf("creating ledger dir: %w", err)
		}
		led, err = ledger.Open(batchLedger)
		if err != nil {
			return err
		}
		defer led.Close()
	}

	failed := 0
	for _, res := range results {
		if res.Status != batch.StatusSuccess {
			failed++
		}
		fmt.Printf("%-20s %-18s", res.Job, res.Status)
		if res.Status == batch.StatusSuccess {
			fmt.Printf(" %6d -> %-8d %s", res.OriginalSize, res.ObfuscatedSize, res.Output)
		} else if res.Err != nil {
			fmt.Printf(" %v", res.Err)
		}
		fmt.Println()

		if led != nil {
			if _, err := led.Record(res); err != nil {
				logger.Error("recording run", "job", res.Job, "err", err)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", failed, len(results))
	}
	return nil
}

func runTechniques(cmd *cobra.Command, args []string) error {
	reg := codec.NewRegistry()
	fmt.Println("Available techniques:")
	for _, id := range reg.Techniques() {
		enc, err := reg.Lookup(id)
		if err != nil {
			return err
		}
		fmt.Printf("  %-10s %s\n", id, enc.Describe())
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	led, err := ledger.Open(runsLedger)
	if err != nil {
		return err
	}
	defer led.Close()

	runs, err := led.List(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	fmt.Printf("%-5s %-20s %-18s %-10s %-7s %-22s %s\n", "ID", "JOB", "STATUS", "SEED", "LAYERS", "TECHNIQUES", "WHEN")
	for _, run := range runs {
		fmt.Printf("%-5d %-20s %-18s %-10d %-7d %-22s %s\n",
			run.ID, run.Job, run.Status, run.Seed, run.Layers,
			strings.Join(run.Techniques, ","), run.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runRunsArtifact(cmd *cobra.Command, args []string) error {
	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("bad run id %q", args[0])
	}

	led, err := ledger.Open(runsLedger)
	if err != nil {
		return err
	}
	defer led.Close()

	doc, err := led.Artifact(id)
	if err != nil {
		return err
	}

	if runsOutput == "" {
		fmt.Print(doc)
		return nil
	}
	if err := os.WriteFile(runsOutput, []byte(doc), 0755); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	fmt.Printf("Artifact of run %d written to %s\n", id, runsOutput)
	return nil
}
