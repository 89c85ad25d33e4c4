package app

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuetzliches/docrelay/internal/config"
)

func parseFlags(t *testing.T, args []string, lookup func(string) (string, bool)) config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := bindConfigFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := f.resolve(fs, lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return cfg
}

func TestResolve_Defaults(t *testing.T) {
	cfg := parseFlags(t, nil, envMap(nil))
	def := config.Default()
	if cfg.Source.URI != def.Source.URI || cfg.Target.Endpoint != def.Target.Endpoint {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Target.Delay != 100*time.Millisecond {
		t.Fatalf("delay=%v, want 100ms", cfg.Target.Delay)
	}
	if cfg.Output.FailureFile != "failed_documents.json" {
		t.Fatalf("failure file=%q", cfg.Output.FailureFile)
	}
}

func TestResolve_FlagBeatsEnv(t *testing.T) {
	env := envMap(map[string]string{
		"DOCRELAY_DATABASE":   "fromenv",
		"DOCRELAY_COLLECTION": "envcoll",
		"DOCRELAY_DELAY_MS":   "250",
	})
	cfg := parseFlags(t, []string{"--database", "fromflag", "--delay", "0", "--allow-host", "api.example.com, *.svc"}, env)
	if cfg.Source.Database != "fromflag" {
		t.Fatalf("database=%q, want fromflag", cfg.Source.Database)
	}
	if cfg.Source.Collection != "envcoll" {
		t.Fatalf("collection=%q, want envcoll", cfg.Source.Collection)
	}
	if cfg.Target.Delay != 0 {
		t.Fatalf("delay=%v, want 0", cfg.Target.Delay)
	}
	if len(cfg.Target.AllowHosts) != 2 || cfg.Target.AllowHosts[1] != "*.svc" {
		t.Fatalf("allow hosts=%v", cfg.Target.AllowHosts)
	}
}

func TestResolve_UnsetFlagKeepsEnv(t *testing.T) {
	env := envMap(map[string]string{"DOCRELAY_ENDPOINT": "https://hooks.example.com/bookings"})
	cfg := parseFlags(t, nil, env)
	if cfg.Target.Endpoint != "https://hooks.example.com/bookings" {
		t.Fatalf("endpoint=%q", cfg.Target.Endpoint)
	}
}

func TestResolve_Dotenv(t *testing.T) {
	const key = "DOCRELAY_COLLECTION"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("# local\nDOCRELAY_COLLECTION=\"bookings\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := parseFlags(t, []string{"--dotenv", path}, os.LookupEnv)
	if cfg.Source.Collection != "bookings" {
		t.Fatalf("collection=%q, want bookings", cfg.Source.Collection)
	}
}

func TestResolve_DotenvMissing(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := bindConfigFlags(fs)
	if err := fs.Parse([]string{"--dotenv", filepath.Join(t.TempDir(), "nope.env")}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.resolve(fs, envMap(nil)); err == nil {
		t.Fatalf("expected error for missing dotenv file")
	}
}

func TestResolve_RepeatedHeaderFlag(t *testing.T) {
	env := envMap(map[string]string{"DOCRELAY_HEADERS": "X-From-Env: 1"})
	cfg := parseFlags(t, []string{"--header", "Authorization: Bearer t", "--header", "X-Run: nightly"}, env)
	if len(cfg.Target.Headers) != 2 || cfg.Target.Headers[0] != "Authorization: Bearer t" {
		t.Fatalf("headers=%q", cfg.Target.Headers)
	}
}

func TestResolve_NoFollowRedirects(t *testing.T) {
	if cfg := parseFlags(t, nil, envMap(nil)); cfg.Target.NoFollowRedirects {
		t.Fatalf("redirects must be followed by default")
	}
	env := envMap(map[string]string{"DOCRELAY_NO_FOLLOW_REDIRECTS": "true"})
	if cfg := parseFlags(t, nil, env); !cfg.Target.NoFollowRedirects {
		t.Fatalf("env value not applied")
	}
	if cfg := parseFlags(t, []string{"--no-follow-redirects=false"}, env); cfg.Target.NoFollowRedirects {
		t.Fatalf("flag must win over env")
	}
}
