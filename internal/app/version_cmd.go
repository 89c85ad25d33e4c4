package app

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
)

// Set at build time with -ldflags "-X github.com/nuetzliches/docrelay/internal/app.version=...".
var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(commit),
		BuildDate: strings.TrimSpace(buildDate),
		GoVersion: runtime.Version(),
	}
}

func (b buildInfo) long() string {
	return fmt.Sprintf("docrelay %s (commit=%s, build_date=%s, %s)", b.Version, b.Commit, b.BuildDate, b.GoVersion)
}

func versionCmd(args []string) int {
	return runVersionCmd(args, os.Stdout, os.Stderr)
}

func runVersionCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asLong := fs.Bool("long", false, "")
	asJSON := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "version: %v\n", err)
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "version: unexpected positional arguments")
		return 2
	}

	info := currentBuild()
	switch {
	case *asJSON:
		if err := json.NewEncoder(stdout).Encode(info); err != nil {
			fmt.Fprintf(stderr, "version: %v\n", err)
			return 1
		}
	case *asLong:
		fmt.Fprintln(stdout, info.long())
	default:
		fmt.Fprintln(stdout, info.Version)
	}
	return 0
}
