// Command credguard-benchcheck compares two `go test -bench` outputs and
// fails when a tracked benchmark regressed past the threshold.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	credguard-benchcheck -baseline old.txt -candidate new.txt
package main

import (
	"flag"
	"fmt"
	"os"
)

const defaultThreshold = 0.30

// tracked lists the hot paths and the units that matter for each.
var tracked = map[string][]string{
	"BenchmarkValidateAccessMemory": {"ns/op", "allocs/op"},
	"BenchmarkValidateAccessRedis":  {"ns/op", "allocs/op"},
	"BenchmarkRefresh":              {"ns/op"},
	"BenchmarkAuthenticateAPIKey":   {"ns/op", "allocs/op"},
}

func main() {
	var (
		baselinePath  string
		candidatePath string
		threshold     float64
	)

	flag.StringVar(&baselinePath, "baseline", "", "path to baseline benchmark output")
	flag.StringVar(&candidatePath, "candidate", "", "path to candidate benchmark output")
	flag.Float64Var(&threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseFile(baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("benchmark metric baseline candidate delta")
	rows, failures := compare(baseline, candidate, threshold)
	for _, r := range rows {
		fmt.Printf("%s %s %.3f %.3f %+0.2f%%\n", r.benchmark, r.unit, r.baseline, r.candidate, r.delta*100)
	}

	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "performance regression threshold exceeded:")
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure)
		}
		os.Exit(1)
	}
}
