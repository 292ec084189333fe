package cli

// This file contains argument processing utilities for separating
// package patterns from go test flags.

import (
	"strings"
)

// goTestValueFlags are go test flags that take their value as the next
// argument when not written as -flag=value.
var goTestValueFlags = map[string]bool{
	"run":              true,
	"skip":             true,
	"count":            true,
	"timeout":          true,
	"parallel":         true,
	"cpu":              true,
	"bench":            true,
	"benchtime":        true,
	"shuffle":          true,
	"list":             true,
	"fuzz":             true,
	"fuzztime":         true,
	"fuzzminimizetime": true,
	"tags":             true,
	"covermode":        true,
	"coverpkg":         true,
	"coverprofile":     true,
	"cpuprofile":       true,
	"memprofile":       true,
	"blockprofile":     true,
	"mutexprofile":     true,
	"outputdir":        true,
	"trace":            true,
	"exec":             true,
	"gcflags":          true,
	"ldflags":          true,
	"asmflags":         true,
	"mod":              true,
	"modfile":          true,
	"overlay":          true,
	"p":                true,
	"vet":              true,
}

// splitTestArgs separates package patterns from go test flags. Everything
// after a literal -- is a flag for go test. No packages means ./...
func splitTestArgs(args []string) (packages, testArgs []string) {
	packages = []string{}
	testArgs = []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			testArgs = append(testArgs, args[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") {
			packages = append(packages, arg)
			continue
		}

		testArgs = append(testArgs, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		// Take the value of flags like -run TestX along with the flag
		if goTestValueFlags[strings.TrimLeft(arg, "-")] && i+1 < len(args) {
			i++
			testArgs = append(testArgs, args[i])
		}
	}

	if len(packages) == 0 {
		packages = append(packages, "./...")
	}
	return packages, testArgs
}

// partition distributes packages round-robin over at most n shards. Empty
// shards are dropped.
func partition(packages []string, n int) [][]string {
	if n > len(packages) {
		n = len(packages)
	}
	shards := make([][]string, n)
	for i, pkg := range packages {
		shards[i%n] = append(shards[i%n], pkg)
	}
	return shards
}

// workerArgs builds the command line of a spawned worker.
func workerArgs(verbose, failFast bool, packages, testArgs []string) []string {
	var args []string
	if verbose {
		args = append(args, "--verbose")
	}
	args = append(args, "worker")
	if failFast {
		args = append(args, "--failfast")
	}
	args = append(args, packages...)
	if len(testArgs) > 0 {
		args = append(args, "--")
		args = append(args, testArgs...)
	}
	return args
}
