package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nuetzliches/docrelay/internal/httpheader"
)

type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks cfg without making any connections.
func Validate(cfg Config) ValidationResult {
	var res ValidationResult

	if strings.TrimSpace(cfg.Source.URI) == "" {
		res.Errors = append(res.Errors, "source.uri is required")
	} else if u, err := url.Parse(cfg.Source.URI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
		res.Errors = append(res.Errors, fmt.Sprintf("source.uri %q must use mongodb:// or mongodb+srv://", MaskURL(cfg.Source.URI)))
	}
	if strings.TrimSpace(cfg.Source.Database) == "" {
		res.Errors = append(res.Errors, "source.database is required")
	}
	if strings.TrimSpace(cfg.Source.Collection) == "" {
		res.Errors = append(res.Errors, "source.collection is required")
	}
	if strings.TrimSpace(cfg.Source.RequireField) == "" {
		res.Errors = append(res.Errors, "source.require_field is required")
	}
	if strings.TrimSpace(cfg.Source.IDField) == "" {
		res.Errors = append(res.Errors, "source.id_field is required")
	}
	if cfg.Source.ConnectTimeout < 0 {
		res.Errors = append(res.Errors, "source.connect_timeout must not be negative")
	}

	if strings.TrimSpace(cfg.Target.Endpoint) == "" {
		res.Errors = append(res.Errors, "target.endpoint is required")
	} else if u, err := url.Parse(cfg.Target.Endpoint); err != nil || u.Host == "" {
		res.Errors = append(res.Errors, fmt.Sprintf("target.endpoint %q is not an absolute url", cfg.Target.Endpoint))
	} else {
		switch strings.ToLower(u.Scheme) {
		case "http":
			if cfg.Target.HTTPSOnly {
				res.Errors = append(res.Errors, "target.endpoint must use https when https_only is set")
			}
		case "https":
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("target.endpoint scheme %q is not supported (use http|https)", u.Scheme))
		}
	}
	if _, err := httpheader.Parse(cfg.Target.Headers); err != nil {
		res.Errors = append(res.Errors, "target.headers: "+err.Error())
	}
	if cfg.Target.Delay < 0 {
		res.Errors = append(res.Errors, "target.delay must not be negative")
	}
	if cfg.Target.Timeout < 0 {
		res.Errors = append(res.Errors, "target.timeout must not be negative")
	}
	if cfg.Target.QueueSize <= 0 {
		res.Errors = append(res.Errors, "target.queue_size must be positive")
	}
	if cfg.Target.Delay == 0 {
		res.Warnings = append(res.Warnings, "target.delay is 0; requests are sent back to back")
	}

	if strings.TrimSpace(cfg.Output.FailureFile) == "" {
		res.Errors = append(res.Errors, "output.failure_file is required")
	}

	if strings.TrimSpace(cfg.Journal.SQLitePath) != "" && strings.TrimSpace(cfg.Journal.PostgresDSN) != "" {
		res.Errors = append(res.Errors, "journal: sqlite_path and postgres_dsn are mutually exclusive")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("observability.log_level %q is invalid (use: debug|info|warn|error)", cfg.Observability.LogLevel))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat)) {
	case "", "json", "text":
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("observability.log_format %q is invalid (use: json|text)", cfg.Observability.LogFormat))
	}
	if p := strings.TrimSpace(cfg.Observability.PushgatewayURL); p != "" {
		if u, err := url.Parse(p); err != nil || u.Host == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("observability.pushgateway_url %q is not an absolute url", p))
		}
	}
	if p := strings.TrimSpace(cfg.Observability.TracingURL); p != "" {
		if u, err := url.Parse(p); err != nil || u.Host == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("observability.tracing_url %q is not an absolute url", p))
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

func FormatValidationJSON(res ValidationResult) (string, error) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func FormatValidationText(res ValidationResult) string {
	if res.OK {
		if len(res.Warnings) == 0 {
			return "config ok"
		}
		return fmt.Sprintf("config ok (warnings: %d)", len(res.Warnings))
	}
	if len(res.Errors) == 0 {
		return "config invalid"
	}
	return fmt.Sprintf("config invalid: %s", res.Errors[0])
}
