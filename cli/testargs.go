package cli

// This file contains argument processing utilities for separating
// package patterns from go test flags.

import (
	"strings"
)

// valueFlags are go test and build flags that consume the next argument when
// given without "=".
var valueFlags = map[string]bool{
	"-run":              true,
	"-skip":             true,
	"-count":            true,
	"-timeout":          true,
	"-bench":            true,
	"-benchtime":        true,
	"-cpu":              true,
	"-parallel":         true,
	"-shuffle":          true,
	"-list":             true,
	"-fuzz":             true,
	"-fuzztime":         true,
	"-fuzzminimizetime": true,
	"-coverprofile":     true,
	"-cpuprofile":       true,
	"-memprofile":       true,
	"-memprofilerate":   true,
	"-blockprofile":     true,
	"-mutexprofile":     true,
	"-trace":            true,
	"-outputdir":        true,
	"-exec":             true,
	"-vet":              true,
	"-o":                true,
	"-p":                true,
	"-tags":             true,
	"-covermode":        true,
	"-coverpkg":         true,
	"-gcflags":          true,
	"-ldflags":          true,
	"-asmflags":         true,
	"-gccgoflags":       true,
	"-mod":              true,
	"-modfile":          true,
	"-overlay":          true,
	"-pkgdir":           true,
	"-toolexec":         true,
}

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

// packagePatterns returns the package arguments of a go test command line.
// Everything after -args belongs to the test binary. Without explicit
// packages go test uses the current directory.
func packagePatterns(args []string) []string {
	var patterns []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-args" || arg == "--args" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			name := strings.TrimPrefix(arg, "-")
			name = "-" + strings.TrimPrefix(name, "-")
			if !strings.Contains(name, "=") && valueFlags[name] {
				i++
			}
			continue
		}
		patterns = append(patterns, arg)
	}
	if len(patterns) == 0 {
		return []string{"."}
	}
	return patterns
}
