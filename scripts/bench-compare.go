//go:build ignore

// Compares two go test -bench output files and fails on regressions.
//
// Usage:
//
//	go test -bench . -benchmem ./internal/validation/ > current.txt
//	go run scripts/bench-compare.go current.txt baseline.txt
//
// A benchmark regresses when ns/op grows by more than the threshold
// against the baseline. Memory (B/op) is compared too when both
// files were produced with -benchmem, but only time fails the run;
// allocation growth is reported for the reviewer to judge.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// defaultThreshold is the allowed ns/op growth before failing.
	defaultThreshold = 0.20

	// improvementThreshold marks results worth calling out as faster.
	improvementThreshold = 0.10
)

var (
	outputJSON    = flag.Bool("json", false, "Output the report as JSON")
	threshold     = flag.Float64("threshold", defaultThreshold, "Regression threshold (0.0-1.0)")
	verbose       = flag.Bool("verbose", false, "Show unchanged, new, and missing benchmarks too")
	failOnRegress = flag.Bool("fail", true, "Exit with code 1 on regression")
)

// benchLine matches one result line of go test -bench output:
// BenchmarkName-8   1000   1234 ns/op   456 B/op   7 allocs/op
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

// measurement is one parsed benchmark result.
type measurement struct {
	Name        string  `json:"name"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  int     `json:"bytes_per_op"`
	AllocsPerOp int     `json:"allocs_per_op"`
}

// comparison is one benchmark measured against its baseline.
type comparison struct {
	Name        string  `json:"name"`
	Current     float64 `json:"current_ns_per_op"`
	Baseline    float64 `json:"baseline_ns_per_op"`
	DeltaPct    float64 `json:"delta_percent"`
	MemDeltaPct float64 `json:"mem_delta_percent,omitempty"`
	Status      string  `json:"status"`
}

// report aggregates a full comparison run.
type report struct {
	TotalBenchmarks int           `json:"total_benchmarks"`
	Regressions     int           `json:"regressions"`
	Improvements    int           `json:"improvements"`
	Unchanged       int           `json:"unchanged"`
	New             int           `json:"new_benchmarks"`
	Missing         int           `json:"missing_benchmarks"`
	Results         []*comparison `json:"results"`
	Failed          bool          `json:"failed"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compares go test -bench output files and detects regressions.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	current, err := parseBenchFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseBenchFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := compare(current, baseline, *threshold)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "error: encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if *failOnRegress && rep.Failed {
		os.Exit(1)
	}
}

func parseBenchFile(path string) (map[string]*measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	results := make(map[string]*measurement)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := parseBenchLine(scanner.Text()); m != nil {
			results[m.Name] = m
		}
	}
	return results, scanner.Err()
}

func parseBenchLine(line string) *measurement {
	matches := benchLine.FindStringSubmatch(line)
	if matches == nil {
		return nil
	}

	m := &measurement{Name: matches[1]}
	m.Iterations, _ = strconv.Atoi(matches[2])
	m.NsPerOp, _ = strconv.ParseFloat(matches[3], 64)
	if matches[4] != "" {
		m.BytesPerOp, _ = strconv.Atoi(matches[4])
	}
	if matches[5] != "" {
		m.AllocsPerOp, _ = strconv.Atoi(matches[5])
	}
	return m
}

func compare(current, baseline map[string]*measurement, threshold float64) *report {
	rep := &report{}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		rep.TotalBenchmarks++

		base, ok := baseline[name]
		if !ok {
			rep.New++
			if *verbose {
				rep.Results = append(rep.Results, &comparison{
					Name:    name,
					Current: curr.NsPerOp,
					Status:  "NEW",
				})
			}
			continue
		}

		c := &comparison{
			Name:     name,
			Current:  curr.NsPerOp,
			Baseline: base.NsPerOp,
		}
		if base.NsPerOp > 0 {
			c.DeltaPct = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp * 100
		}
		if base.BytesPerOp > 0 && curr.BytesPerOp > 0 {
			c.MemDeltaPct = float64(curr.BytesPerOp-base.BytesPerOp) / float64(base.BytesPerOp) * 100
		}

		switch {
		case c.DeltaPct > threshold*100:
			c.Status = "REGRESSION"
			rep.Regressions++
			rep.Failed = true
		case c.DeltaPct < -improvementThreshold*100:
			c.Status = "IMPROVED"
			rep.Improvements++
		default:
			c.Status = "OK"
			rep.Unchanged++
		}

		if c.Status != "OK" || *verbose {
			rep.Results = append(rep.Results, c)
		}
	}

	baseNames := make([]string, 0, len(baseline))
	for name := range baseline {
		baseNames = append(baseNames, name)
	}
	sort.Strings(baseNames)

	for _, name := range baseNames {
		if _, ok := current[name]; ok {
			continue
		}
		rep.Missing++
		if *verbose {
			rep.Results = append(rep.Results, &comparison{
				Name:     name,
				Baseline: baseline[name].NsPerOp,
				Status:   "MISSING",
			})
		}
	}

	return rep
}

func printReport(rep *report) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("BENCHMARK COMPARISON")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
	fmt.Printf("Benchmarks:   %d\n", rep.TotalBenchmarks)
	fmt.Printf("Regressions:  %d (> %.0f%% slower)\n", rep.Regressions, *threshold*100)
	fmt.Printf("Improvements: %d (> %.0f%% faster)\n", rep.Improvements, improvementThreshold*100)
	fmt.Printf("Unchanged:    %d\n", rep.Unchanged)
	fmt.Printf("New:          %d\n", rep.New)
	fmt.Printf("Missing:      %d\n", rep.Missing)
	fmt.Println()

	if len(rep.Results) > 0 {
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("%-44s %12s %12s %9s\n", "BENCHMARK", "CURRENT", "BASELINE", "DELTA")
		fmt.Println(strings.Repeat("-", 80))

		for _, c := range rep.Results {
			name := c.Name
			if len(name) > 44 {
				name = name[:41] + "..."
			}
			if c.Baseline > 0 && c.Current > 0 {
				memNote := ""
				if c.MemDeltaPct != 0 {
					memNote = fmt.Sprintf("  (mem %+.1f%%)", c.MemDeltaPct)
				}
				fmt.Printf("%-44s %10.0fns %10.0fns %+8.1f%%  %s%s\n",
					name, c.Current, c.Baseline, c.DeltaPct, c.Status, memNote)
			} else if c.Current > 0 {
				fmt.Printf("%-44s %10.0fns %12s %9s  %s\n", name, c.Current, "-", "-", c.Status)
			} else {
				fmt.Printf("%-44s %12s %10.0fns %9s  %s\n", name, "-", c.Baseline, "-", c.Status)
			}
		}
		fmt.Println(strings.Repeat("-", 80))
	}

	fmt.Println()
	if rep.Failed {
		fmt.Printf("FAILED: %d benchmark(s) regressed by more than %.0f%%\n", rep.Regressions, *threshold*100)
	} else {
		fmt.Println("PASSED: no significant regressions")
	}
	fmt.Println()
}
