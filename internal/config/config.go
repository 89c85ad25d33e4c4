package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nuetzliches/docrelay/internal/httpheader"
)

const (
	DefaultMongoURI     = "mongodb://localhost:27017"
	DefaultDatabase     = "rd1"
	DefaultCollection   = "3271"
	DefaultRequireField = "token"
	DefaultIDField      = "_id"
	DefaultEndpoint     = "http://localhost:8000/booking-box/update-bookings"
	DefaultDelay        = 100 * time.Millisecond
	DefaultQueueSize    = 64
	DefaultFailureFile  = "failed_documents.json"
)

// Config is the effective job configuration. It is built once at startup and
// passed down explicitly; nothing reads process-wide settings after that.
type Config struct {
	Source        SourceConfig        `json:"source"`
	Target        TargetConfig        `json:"target"`
	Output        OutputConfig        `json:"output"`
	Journal       JournalConfig       `json:"journal"`
	Observability ObservabilityConfig `json:"observability"`
}

type SourceConfig struct {
	URI          string `json:"uri"`
	Database     string `json:"database"`
	Collection   string `json:"collection"`
	RequireField string `json:"require_field"`
	IDField      string `json:"id_field"`

	// ConnectTimeout bounds server selection. Zero keeps the driver default.
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

type TargetConfig struct {
	Endpoint string        `json:"endpoint"`
	Delay    time.Duration `json:"delay"`
	// Timeout bounds a single request. Zero means no timeout.
	Timeout   time.Duration `json:"timeout"`
	QueueSize int           `json:"queue_size"`

	HTTPSOnly  bool     `json:"https_only"`
	AllowHosts []string `json:"allow_hosts,omitempty"`

	NoFollowRedirects bool `json:"no_follow_redirects,omitempty"`

	// Headers are extra "Name: value" request headers.
	Headers []string `json:"headers,omitempty"`
}

type OutputConfig struct {
	FailureFile string `json:"failure_file"`
}

type JournalConfig struct {
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

func (j JournalConfig) Enabled() bool {
	return strings.TrimSpace(j.SQLitePath) != "" || strings.TrimSpace(j.PostgresDSN) != ""
}

type ObservabilityConfig struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	TracingURL     string `json:"tracing_url,omitempty"`
}

func (o ObservabilityConfig) TracingEnabled() bool {
	return strings.TrimSpace(o.TracingURL) != ""
}

// Default returns the configuration the job runs with when nothing is set.
func Default() Config {
	return Config{
		Source: SourceConfig{
			URI:          DefaultMongoURI,
			Database:     DefaultDatabase,
			Collection:   DefaultCollection,
			RequireField: DefaultRequireField,
			IDField:      DefaultIDField,
		},
		Target: TargetConfig{
			Endpoint:  DefaultEndpoint,
			Delay:     DefaultDelay,
			QueueSize: DefaultQueueSize,
		},
		Output: OutputConfig{
			FailureFile: DefaultFailureFile,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// FromEnv overlays DOCRELAY_* environment variables on cfg. Values that do
// not parse are reported as errors; the corresponding field keeps its value.
func FromEnv(cfg Config, lookup func(string) (string, bool)) (Config, []string) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, key+": "+err.Error())
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, key+": "+err.Error())
			return
		}
		*dst = b
	}

	str("DOCRELAY_MONGO_URI", &cfg.Source.URI)
	str("DOCRELAY_DATABASE", &cfg.Source.Database)
	str("DOCRELAY_COLLECTION", &cfg.Source.Collection)
	str("DOCRELAY_REQUIRE_FIELD", &cfg.Source.RequireField)
	str("DOCRELAY_ID_FIELD", &cfg.Source.IDField)
	dur("DOCRELAY_CONNECT_TIMEOUT", &cfg.Source.ConnectTimeout)

	str("DOCRELAY_ENDPOINT", &cfg.Target.Endpoint)
	if v, ok := lookup("DOCRELAY_DELAY_MS"); ok && strings.TrimSpace(v) != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, "DOCRELAY_DELAY_MS: "+err.Error())
		} else {
			cfg.Target.Delay = time.Duration(ms) * time.Millisecond
		}
	}
	dur("DOCRELAY_REQUEST_TIMEOUT", &cfg.Target.Timeout)
	if v, ok := lookup("DOCRELAY_QUEUE_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, "DOCRELAY_QUEUE_SIZE: "+err.Error())
		} else {
			cfg.Target.QueueSize = n
		}
	}
	boolean("DOCRELAY_HTTPS_ONLY", &cfg.Target.HTTPSOnly)
	boolean("DOCRELAY_NO_FOLLOW_REDIRECTS", &cfg.Target.NoFollowRedirects)
	if v, ok := lookup("DOCRELAY_ALLOW_HOSTS"); ok && strings.TrimSpace(v) != "" {
		cfg.Target.AllowHosts = SplitList(v)
	}
	if v, ok := lookup("DOCRELAY_HEADERS"); ok && strings.TrimSpace(v) != "" {
		cfg.Target.Headers = splitLines(v)
	}

	str("DOCRELAY_FAILURE_FILE", &cfg.Output.FailureFile)
	str("DOCRELAY_JOURNAL_DB", &cfg.Journal.SQLitePath)
	str("DOCRELAY_JOURNAL_POSTGRES_DSN", &cfg.Journal.PostgresDSN)

	str("DOCRELAY_LOG_LEVEL", &cfg.Observability.LogLevel)
	str("DOCRELAY_LOG_FORMAT", &cfg.Observability.LogFormat)
	str("DOCRELAY_PUSHGATEWAY_URL", &cfg.Observability.PushgatewayURL)
	str("DOCRELAY_TRACING_ENDPOINT", &cfg.Observability.TracingURL)

	return cfg, errs
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// MaskedJSON renders the configuration with credentials removed from
// connection strings.
func (c Config) MaskedJSON() ([]byte, error) {
	type maskedSource struct {
		URI            string `json:"uri"`
		Database       string `json:"database"`
		Collection     string `json:"collection"`
		RequireField   string `json:"require_field"`
		IDField        string `json:"id_field"`
		ConnectTimeout string `json:"connect_timeout,omitempty"`
	}
	type maskedTarget struct {
		Endpoint   string   `json:"endpoint"`
		Delay      string   `json:"delay"`
		Timeout    string   `json:"timeout,omitempty"`
		QueueSize  int      `json:"queue_size"`
		HTTPSOnly  bool     `json:"https_only"`
		AllowHosts []string `json:"allow_hosts,omitempty"`
		NoFollow   bool     `json:"no_follow_redirects,omitempty"`
		Headers    []string `json:"headers,omitempty"`
	}
	var headers []string
	for _, h := range c.Target.Headers {
		headers = append(headers, httpheader.Redact(h))
	}
	masked := struct {
		Source        maskedSource        `json:"source"`
		Target        maskedTarget        `json:"target"`
		Output        OutputConfig        `json:"output"`
		Journal       JournalConfig       `json:"journal"`
		Observability ObservabilityConfig `json:"observability"`
	}{
		Source: maskedSource{
			URI:            MaskURL(c.Source.URI),
			Database:       c.Source.Database,
			Collection:     c.Source.Collection,
			RequireField:   c.Source.RequireField,
			IDField:        c.Source.IDField,
			ConnectTimeout: durationString(c.Source.ConnectTimeout),
		},
		Target: maskedTarget{
			Endpoint:   MaskURL(c.Target.Endpoint),
			Delay:      c.Target.Delay.String(),
			Timeout:    durationString(c.Target.Timeout),
			QueueSize:  c.Target.QueueSize,
			HTTPSOnly:  c.Target.HTTPSOnly,
			AllowHosts: c.Target.AllowHosts,
			NoFollow:   c.Target.NoFollowRedirects,
			Headers:    headers,
		},
		Output: c.Output,
		Journal: JournalConfig{
			SQLitePath:  c.Journal.SQLitePath,
			PostgresDSN: MaskURL(c.Journal.PostgresDSN),
		},
		Observability: c.Observability,
	}
	return json.MarshalIndent(masked, "", "  ")
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// MaskURL hides the password of a URL-shaped connection string. Strings that
// do not parse as URLs are returned masked entirely.
func MaskURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
