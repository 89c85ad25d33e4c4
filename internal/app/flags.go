package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nuetzliches/docrelay/internal/config"
)

// configFlags are the job settings shared by run and the config commands.
// A flag given on the command line wins over DOCRELAY_* variables, which win
// over the built-in defaults.
type configFlags struct {
	mongoURI       string
	database       string
	collection     string
	requireField   string
	idField        string
	connectTimeout time.Duration

	endpoint   string
	delayMS    int
	timeout    time.Duration
	queueSize  int
	httpsOnly  bool
	noFollow   bool
	allowHosts string
	headers    headerList

	failureFile string
	journalDB   string
	journalDSN  string

	pushgatewayURL string
	tracingURL     string
	logLevel       string
	logFormat      string

	dotenv string
}

func bindConfigFlags(fs *flag.FlagSet) *configFlags {
	def := config.Default()
	f := &configFlags{}
	fs.StringVar(&f.mongoURI, "mongo-uri", def.Source.URI, "MongoDB connection string [DOCRELAY_MONGO_URI]")
	fs.StringVar(&f.database, "database", def.Source.Database, "database name [DOCRELAY_DATABASE]")
	fs.StringVar(&f.collection, "collection", def.Source.Collection, "collection name [DOCRELAY_COLLECTION]")
	fs.StringVar(&f.requireField, "require-field", def.Source.RequireField, "only read documents that have this field [DOCRELAY_REQUIRE_FIELD]")
	fs.StringVar(&f.idField, "id-field", def.Source.IDField, "field removed before sending [DOCRELAY_ID_FIELD]")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 0, "server selection timeout, 0 keeps the driver default [DOCRELAY_CONNECT_TIMEOUT]")

	fs.StringVar(&f.endpoint, "endpoint", def.Target.Endpoint, "target URL [DOCRELAY_ENDPOINT]")
	fs.IntVar(&f.delayMS, "delay", int(def.Target.Delay/time.Millisecond), "pause after each request in milliseconds [DOCRELAY_DELAY_MS]")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-request timeout, 0 disables [DOCRELAY_REQUEST_TIMEOUT]")
	fs.IntVar(&f.queueSize, "queue-size", def.Target.QueueSize, "dispatch queue capacity [DOCRELAY_QUEUE_SIZE]")
	fs.BoolVar(&f.httpsOnly, "https-only", false, "refuse non-https endpoints [DOCRELAY_HTTPS_ONLY]")
	fs.BoolVar(&f.noFollow, "no-follow-redirects", false, "treat a 3xx response as the final answer [DOCRELAY_NO_FOLLOW_REDIRECTS]")
	fs.StringVar(&f.allowHosts, "allow-host", "", "comma separated egress allowlist: host, *.domain or CIDR [DOCRELAY_ALLOW_HOSTS]")

	fs.Var(&f.headers, "header", "extra request header \"Name: value\", repeatable [DOCRELAY_HEADERS, one per line]")

	fs.StringVar(&f.failureFile, "failure-file", def.Output.FailureFile, "where failed documents are written [DOCRELAY_FAILURE_FILE]")
	fs.StringVar(&f.journalDB, "journal-db", "", "sqlite journal path [DOCRELAY_JOURNAL_DB]")
	fs.StringVar(&f.journalDSN, "journal-postgres-dsn", "", "postgres journal DSN [DOCRELAY_JOURNAL_POSTGRES_DSN]")

	fs.StringVar(&f.pushgatewayURL, "pushgateway-url", "", "push job metrics to this Pushgateway [DOCRELAY_PUSHGATEWAY_URL]")
	fs.StringVar(&f.tracingURL, "tracing-endpoint", "", "OTLP/HTTP traces URL [DOCRELAY_TRACING_ENDPOINT]")
	fs.StringVar(&f.logLevel, "log-level", def.Observability.LogLevel, "log level (debug|info|warn|error) [DOCRELAY_LOG_LEVEL]")
	fs.StringVar(&f.logFormat, "log-format", def.Observability.LogFormat, "log format (json|text) [DOCRELAY_LOG_FORMAT]")

	fs.StringVar(&f.dotenv, "dotenv", "", "load environment variables from file; existing variables win")
	return f
}

// resolve builds the effective config. It must run after fs.Parse.
func (f *configFlags) resolve(fs *flag.FlagSet, lookup func(string) (string, bool)) (config.Config, error) {
	if path := strings.TrimSpace(f.dotenv); path != "" {
		if err := godotenv.Load(path); err != nil {
			return config.Config{}, fmt.Errorf("load dotenv %q: %w", path, err)
		}
	}

	cfg, envErrs := config.FromEnv(config.Default(), lookup)
	if len(envErrs) > 0 {
		return config.Config{}, errors.New(strings.Join(envErrs, "; "))
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "mongo-uri":
			cfg.Source.URI = f.mongoURI
		case "database":
			cfg.Source.Database = f.database
		case "collection":
			cfg.Source.Collection = f.collection
		case "require-field":
			cfg.Source.RequireField = f.requireField
		case "id-field":
			cfg.Source.IDField = f.idField
		case "connect-timeout":
			cfg.Source.ConnectTimeout = f.connectTimeout
		case "endpoint":
			cfg.Target.Endpoint = f.endpoint
		case "delay":
			cfg.Target.Delay = time.Duration(f.delayMS) * time.Millisecond
		case "timeout":
			cfg.Target.Timeout = f.timeout
		case "queue-size":
			cfg.Target.QueueSize = f.queueSize
		case "https-only":
			cfg.Target.HTTPSOnly = f.httpsOnly
		case "no-follow-redirects":
			cfg.Target.NoFollowRedirects = f.noFollow
		case "allow-host":
			cfg.Target.AllowHosts = config.SplitList(f.allowHosts)
		case "header":
			cfg.Target.Headers = append([]string(nil), f.headers...)
		case "failure-file":
			cfg.Output.FailureFile = f.failureFile
		case "journal-db":
			cfg.Journal.SQLitePath = f.journalDB
		case "journal-postgres-dsn":
			cfg.Journal.PostgresDSN = f.journalDSN
		case "pushgateway-url":
			cfg.Observability.PushgatewayURL = f.pushgatewayURL
		case "tracing-endpoint":
			cfg.Observability.TracingURL = f.tracingURL
		case "log-level":
			cfg.Observability.LogLevel = f.logLevel
		case "log-format":
			cfg.Observability.LogFormat = f.logFormat
		}
	})
	return cfg, nil
}

type headerList []string

func (h *headerList) String() string {
	return strings.Join(*h, ", ")
}

func (h *headerList) Set(v string) error {
	*h = append(*h, v)
	return nil
}
