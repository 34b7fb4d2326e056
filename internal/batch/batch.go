// Package batch runs obfuscation jobs through a bounded worker pool. Each job
// is independent: parse, merge, encode, generate, write. One job failing never
// stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"obfuslite/internal/artifact"
	"obfuslite/internal/codec"
	"obfuslite/internal/graph"
	"obfuslite/internal/parse"
	"obfuslite/internal/pipeline"
)

// Status is the terminal state of one job.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusParseError  Status = "parse-error"
	StatusConfigError Status = "config-error"
	StatusSelfTest    Status = "self-test-failure"
	StatusIO          Status = "io-failure"
	StatusCanceled    Status = "canceled"
)

// UnitSource is one input module for a job. Source is used when set;
// otherwise the file at Path is read.
type UnitSource struct {
	Name   string
	Path   string
	Source string
}

// Job is one obfuscation request.
type Job struct {
	Name       string
	Units      []UnitSource
	Techniques []string
	Layers     int
	// Seed pins the run seed; nil means generate a fresh one.
	Seed *int64
	// Output is the artifact path; empty keeps the artifact in memory only.
	Output   string
	Annotate bool
}

// Result is the outcome of one job.
type Result struct {
	Job    string
	Status Status
	Err    error

	Seed       int64
	Techniques []string
	Layers     int
	Output     string

	// FailedUnits are units skipped because they did not parse. The job still
	// succeeds if at least one unit parsed.
	FailedUnits []string
	Warnings    []graph.Warning
	Decisions   []graph.Decision

	// Artifact is the generated document text; Pipeline is the full forward
	// pass record, kept so the caller can export a reversal bundle.
	Artifact       string
	Pipeline       *pipeline.Result
	OriginalSize   int
	ObfuscatedSize int
	Duration       time.Duration
}

// Options tune a batch run.
type Options struct {
	// Workers bounds pool size; <=0 means one per CPU.
	Workers int
	// JobTimeout bounds a single job; zero means no per-job limit.
	JobTimeout time.Duration
	Logger     *log.Logger
}

// Run executes jobs concurrently and returns one result per job, in job
// order. Cancelling ctx stops scheduling new jobs; jobs never started are
// reported as canceled.
func Run(ctx context.Context, jobs []Job, opts Options) []Result {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	reg := codec.NewRegistry()
	results := make([]Result, len(jobs))

	tasks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				results[idx] = runJob(ctx, reg, jobs[idx], opts, logger)
			}
		}()
	}

dispatch:
	for i := range jobs {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- i:
		}
	}
	close(tasks)
	wg.Wait()

	for i := range results {
		if results[i].Status == "" {
			results[i] = Result{Job: jobs[i].Name, Status: StatusCanceled, Err: ctx.Err()}
		}
	}
	return results
}

// runJob walks one job through every stage, checking for cancellation at
// stage boundaries. A running stage is never interrupted mid-flight.
func runJob(ctx context.Context, reg *codec.Registry, job Job, opts Options, logger *log.Logger) (res Result) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.JobTimeout)
		defer cancel()
	}

	logger = logger.With("job", job.Name)
	res = Result{
		Job:        job.Name,
		Techniques: job.Techniques,
		Layers:     job.Layers,
		Output:     job.Output,
	}

	fail := func(status Status, err error) Result {
		res.Status = status
		res.Err = err
		logger.Error("job failed", "status", status, "err", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusCanceled, err)
	}

	// Parsing tolerates broken units: they are excluded and reported, and
	// only a fully unparseable job fails.
	parser := parse.New()
	var units []*parse.Unit
	for _, us := range job.Units {
		source := us.Source
		if source == "" && us.Path != "" {
			raw, err := os.ReadFile(us.Path)
			if err != nil {
				return fail(StatusIO, fmt.Errorf("reading unit %q: %w", us.Name, err))
			}
			source = string(raw)
		}

		unit, err := parser.Parse(us.Name, source)
		if err != nil {
			var perr *parse.ParseError
			if errors.As(err, &perr) {
				logger.Warn("unit excluded", "unit", us.Name, "err", perr.Reason)
				res.FailedUnits = append(res.FailedUnits, us.Name)
				continue
			}
			return fail(StatusParseError, err)
		}
		units = append(units, unit)
	}
	if len(units) == 0 {
		return fail(StatusParseError, fmt.Errorf("job %q: no unit parsed", job.Name))
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusCanceled, err)
	}

	merged, err := graph.Merge(units, graph.Options{Missing: res.FailedUnits, Annotate: job.Annotate})
	if err != nil {
		return fail(StatusConfigError, err)
	}
	res.Warnings = merged.Warnings
	res.Decisions = merged.Decisions
	for _, w := range merged.Warnings {
		logger.Warn("merge warning", "kind", w.Kind, "detail", w.Detail)
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusCanceled, err)
	}

	seed := pipeline.NewSeed()
	if job.Seed != nil {
		seed = *job.Seed
	}
	res.Seed = seed

	stack, err := pipeline.BuildStack(reg, job.Techniques, job.Layers, seed)
	if err != nil {
		return fail(StatusConfigError, err)
	}
	encoded, err := stack.Apply(reg, merged.Text)
	if err != nil {
		var cerr *pipeline.ConfigError
		if errors.As(err, &cerr) {
			return fail(StatusConfigError, err)
		}
		return fail(StatusIO, err)
	}
	res.Pipeline = encoded
	res.OriginalSize = encoded.OriginalSize
	res.ObfuscatedSize = encoded.ObfuscatedSize

	if err := ctx.Err(); err != nil {
		return fail(StatusCanceled, err)
	}

	doc, err := artifact.Generate(reg, merged.Text, encoded)
	if err != nil {
		var sterr *artifact.SelfTestError
		if errors.As(err, &sterr) {
			return fail(StatusSelfTest, err)
		}
		return fail(StatusConfigError, err)
	}
	res.Artifact = doc

	if job.Output != "" {
		if err := writeArtifact(job.Output, doc); err != nil {
			return fail(StatusIO, err)
		}
	}

	res.Status = StatusSuccess
	logger.Info("job done",
		"units", len(units),
		"layers", len(stack.Layers),
		"in", encoded.OriginalSize,
		"out", encoded.ObfuscatedSize,
		"took", time.Since(start),
	)
	return res
}

// writeArtifact writes the document to a temp file and renames it into place
// so a crash never leaves a half-written artifact. Artifacts are executable:
// they are runnable Python programs.
func writeArtifact(path, doc string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(doc), 0755); err != nil {
		return fmt.Errorf("writing tmp artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
