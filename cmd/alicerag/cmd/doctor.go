package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/config"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose bool
		offline bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure alicerag can operate correctly.

Checks:
  - Write permissions on the data directory
  - Disk space (200MB minimum)
  - Memory availability (1GB minimum)
  - File descriptor limits (1024 minimum)
  - Embedding service reachability
  - Index consistency (when an index exists)

Note: the embedding service check is a non-critical warning. When the
service is unreachable, alicerag falls back to keyword-only search.

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.
Use --repair to fix repairable index inconsistencies.`,
		Example: `  # Run diagnostics
  alicerag doctor

  # Verbose output with details
  alicerag doctor --verbose

  # JSON output for scripting
  alicerag doctor --json

  # Fix index inconsistencies
  alicerag doctor --repair`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return runDoctor(cmd, verbose, jsonOutput, offline, repair)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Check against static embeddings instead of the service")
	cmd.Flags().BoolVar(&repair, "repair", false, "Repair index inconsistencies found by the consistency check")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline, repair bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.DataDir

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithEmbeddings(effectiveProvider(cfg, offline), cfg.Embeddings.Endpoint),
	)
	results := checker.RunAll(ctx, dataDir)

	if indexExists(dataDir) {
		results = append(results, checkIndexConsistency(ctx, cfg, repair))
	}

	if jsonOutput {
		return printDoctorJSON(cmd, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(dataDir) {
		if age := preflight.MarkerAge(dataDir); age > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nLast successful check: %s\n", formatAge(time.Now().Add(-age)))
		}
	}

	if preflight.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}

	return nil
}

// checkIndexConsistency cross-checks the metadata store against the
// vector index and the filesystem. It needs the writer lock, so a
// store held by serve or watch degrades to a warning instead of an
// error.
func checkIndexConsistency(ctx context.Context, cfg *config.Config, repair bool) preflight.CheckResult {
	result := preflight.CheckResult{Name: "index_consistency"}

	engine, cleanup, err := openEngineDetached(ctx, cfg)
	if err != nil {
		result.Status = preflight.StatusWarn
		if alerrors.GetCode(err) == alerrors.ErrCodeStoreLocked {
			result.Message = "index is in use by another process, skipping"
		} else {
			result.Message = fmt.Sprintf("cannot open index: %v", err)
		}
		return result
	}
	defer cleanup()

	check, err := engine.Check(ctx)
	if err != nil {
		result.Status = preflight.StatusWarn
		result.Message = fmt.Sprintf("consistency check failed: %v", err)
		return result
	}

	if check.Healthy() {
		result.Status = preflight.StatusPass
		result.Message = fmt.Sprintf("%d documents, %d chunks consistent", check.Documents, check.Chunks)
		return result
	}

	if !repair {
		result.Status = preflight.StatusWarn
		result.Message = fmt.Sprintf("%d issue(s) found, run 'alicerag doctor --repair' to fix", len(check.Issues))
		result.Details = describeIssues(check.Issues)
		return result
	}

	if err := engine.Repair(ctx, check.Issues); err != nil {
		result.Status = preflight.StatusFail
		result.Message = fmt.Sprintf("repair failed: %v", err)
		result.Details = describeIssues(check.Issues)
		return result
	}

	recheck, err := engine.Check(ctx)
	if err != nil {
		result.Status = preflight.StatusWarn
		result.Message = fmt.Sprintf("repaired %d issue(s), re-check failed: %v", len(check.Issues), err)
		return result
	}
	if recheck.Healthy() {
		result.Status = preflight.StatusPass
		result.Message = fmt.Sprintf("repaired %d issue(s), index is consistent", len(check.Issues))
		return result
	}

	// Missing or mis-sized embeddings survive a repair; they need a
	// clear-and-reindex to regenerate.
	result.Status = preflight.StatusWarn
	result.Message = fmt.Sprintf("%d issue(s) remain after repair, run 'alicerag clear --force' and reindex", len(recheck.Issues))
	result.Details = describeIssues(recheck.Issues)
	return result
}

// describeIssues collapses issues into "kind xN" pairs.
func describeIssues(issues []index.Issue) string {
	counts := make(map[string]int)
	var order []string
	for _, issue := range issues {
		kind := issue.Kind.String()
		if counts[kind] == 0 {
			order = append(order, kind)
		}
		counts[kind]++
	}

	parts := make([]string, 0, len(order))
	for _, kind := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", kind, counts[kind]))
	}
	return strings.Join(parts, ", ")
}

// doctorReport is the doctor --json payload.
type doctorReport struct {
	Status   string              `json:"status"`
	Checks   []doctorCheckResult `json:"checks"`
	Warnings []string            `json:"warnings,omitempty"`
	Errors   []string            `json:"errors,omitempty"`
}

// doctorCheckResult is a single check result for JSON output.
type doctorCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func printDoctorJSON(cmd *cobra.Command, results []preflight.CheckResult) error {
	report := doctorReport{
		Status: preflight.SummaryStatus(results),
		Checks: make([]doctorCheckResult, len(results)),
	}

	for i, r := range results {
		report.Checks[i] = doctorCheckResult{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
