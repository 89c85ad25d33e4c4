package app

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nuetzliches/docrelay/internal/config"
)

func configCmd(args []string) int {
	return runConfigCmd(args, os.LookupEnv, os.Stdout, os.Stderr)
}

func runConfigCmd(args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "missing subcommand: validate | show")
		return 2
	}

	switch args[0] {
	case "validate":
		return configValidate(args[1:], lookup, stdout, stderr)
	case "show":
		return configShow(args[1:], lookup, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func configValidate(args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := bindConfigFlags(fs)
	format := fs.String("format", "text", "output format: json|text")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := flags.resolve(fs, lookup)
	if err != nil {
		return configValidateError(stdout, *format, err.Error())
	}

	res := config.Validate(cfg)
	switch strings.ToLower(*format) {
	case "json":
		out, err := config.FormatValidationJSON(res)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		fmt.Fprintln(stdout, out)
	case "text":
		fmt.Fprintln(stdout, config.FormatValidationText(res))
		for _, e := range res.Errors {
			fmt.Fprintf(stdout, "error: %s\n", e)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(stdout, "warning: %s\n", w)
		}
	default:
		fmt.Fprintf(stderr, "invalid --format %q (use: json|text)\n", *format)
		return 2
	}

	if !res.OK {
		return 2
	}
	return 0
}

func configValidateError(stdout io.Writer, format, msg string) int {
	res := config.ValidationResult{OK: false, Errors: []string{msg}}
	if strings.ToLower(format) == "json" {
		if out, err := config.FormatValidationJSON(res); err == nil {
			fmt.Fprintln(stdout, out)
			return 2
		}
	}
	fmt.Fprintln(stdout, config.FormatValidationText(res))
	return 2
}

func configShow(args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := bindConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := flags.resolve(fs, lookup)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	out, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = stdout.Write(out)
	fmt.Fprintln(stdout)
	return 0
}
