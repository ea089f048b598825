// Package settings holds the process settings of the callcenter binary.
// They come from flags, CALLCENTER_* environment variables and an optional
// settings file, merged by viper. The engine's own configuration (operators,
// queue size, operand bounds) lives in the file named by EngineConfig and is
// reloaded live by pkg/config.
package settings

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/core"
)

// EnvPrefix prefixes environment overrides, e.g. CALLCENTER_HTTP_ADDR
const EnvPrefix = "CALLCENTER"

// Settings is the complete process configuration
type Settings struct {
	// EngineConfig is the live-reloaded engine file (YAML or JSON)
	EngineConfig string `mapstructure:"engine_config"`
	// Watch reloads EngineConfig on change
	Watch bool `mapstructure:"watch"`

	Operator OperatorSettings `mapstructure:"operator"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Admin    AdminSettings    `mapstructure:"admin"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Records  RecordSettings   `mapstructure:"records"`
	Tracing  TracingSettings  `mapstructure:"tracing"`
	Log      LogSettings      `mapstructure:"log"`
}

// OperatorSettings controls the simulated operator
type OperatorSettings struct {
	// Unit is the talk time of one operand unit
	Unit time.Duration `mapstructure:"unit"`
}

// HTTPSettings controls the public call API
type HTTPSettings struct {
	Addr        string        `mapstructure:"addr"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// RateLimit is requests per second per client; 0 disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// AdminSettings controls the metrics and record feed listener
type AdminSettings struct {
	// Addr is empty to disable the admin server
	Addr string `mapstructure:"addr"`
	// PollInterval is how often point-in-time gauges are refreshed
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AuthSettings guards /update
type AuthSettings struct {
	// JWTSecret enables bearer auth on /update when set
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RecordSettings selects the CDR recorders
type RecordSettings struct {
	// File is the CDR text file; empty disables it
	File         string `mapstructure:"file"`
	FileMaxBytes int64  `mapstructure:"file_max_bytes"`

	// SQLDriver is sqlite3, postgres or pgx; empty disables the SQL recorder
	SQLDriver string `mapstructure:"sql_driver"`
	SQLDSN    string `mapstructure:"sql_dsn"`

	// NATSURL enables publishing records to NATS when set
	NATSURL    string `mapstructure:"nats_url"`
	NATSPrefix string `mapstructure:"nats_prefix"`

	// Log writes every record to the process log
	Log bool `mapstructure:"log"`

	// Buffer is the per-recorder async queue length
	Buffer int `mapstructure:"buffer"`
}

// TracingSettings configures OpenTelemetry
type TracingSettings struct {
	// Exporter is none, stdout, zipkin or jaeger
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// LogSettings configures the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in settings
func Default() *Settings {
	return &Settings{
		EngineConfig: "config.yaml",
		Watch:        true,
		Operator:     OperatorSettings{Unit: time.Second},
		HTTP: HTTPSettings{
			Addr:        ":8080",
			MaxInFlight: 1000,
			CallTimeout: 150 * time.Second,
			RateBurst:   10,
		},
		Admin: AdminSettings{
			Addr:         ":9090",
			PollInterval: 5 * time.Second,
		},
		Auth: AuthSettings{Issuer: "callcenter"},
		Records: RecordSettings{
			File:         "cdr.txt",
			FileMaxBytes: 64 << 20,
			NATSPrefix:   "callcenter",
			Buffer:       1024,
		},
		Tracing: TracingSettings{
			Exporter:    "none",
			SampleRate:  1,
			Environment: "development",
		},
		Log: LogSettings{Level: "INFO", Format: "text"},
	}
}

// SetDefaults registers Default with viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("engine_config", d.EngineConfig)
	viper.SetDefault("watch", d.Watch)

	viper.SetDefault("operator.unit", d.Operator.Unit)

	viper.SetDefault("http.addr", d.HTTP.Addr)
	viper.SetDefault("http.max_in_flight", d.HTTP.MaxInFlight)
	viper.SetDefault("http.call_timeout", d.HTTP.CallTimeout)
	viper.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	viper.SetDefault("http.rate_burst", d.HTTP.RateBurst)

	viper.SetDefault("admin.addr", d.Admin.Addr)
	viper.SetDefault("admin.poll_interval", d.Admin.PollInterval)

	viper.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	viper.SetDefault("auth.issuer", d.Auth.Issuer)

	viper.SetDefault("records.file", d.Records.File)
	viper.SetDefault("records.file_max_bytes", d.Records.FileMaxBytes)
	viper.SetDefault("records.sql_driver", d.Records.SQLDriver)
	viper.SetDefault("records.sql_dsn", d.Records.SQLDSN)
	viper.SetDefault("records.nats_url", d.Records.NATSURL)
	viper.SetDefault("records.nats_prefix", d.Records.NATSPrefix)
	viper.SetDefault("records.log", d.Records.Log)
	viper.SetDefault("records.buffer", d.Records.Buffer)

	viper.SetDefault("tracing.exporter", d.Tracing.Exporter)
	viper.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	viper.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	viper.SetDefault("tracing.environment", d.Tracing.Environment)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

// Init wires viper to the settings file and the environment. An empty
// file searches the working directory and ConfigDir for settings.yaml.
func Init(file string) {
	SetDefaults()

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("settings")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(ConfigDir())
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing settings file is fine
	_ = viper.ReadInConfig()
}

// Load unmarshals the merged viper state and validates it
func Load() (*Settings, error) {
	s := Default()
	if err := viper.Unmarshal(s); err != nil {
		return nil, &core.Error{Code: core.CodeInvalidConfig, Message: "settings: " + err.Error()}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings
func (s *Settings) Validate() error {
	err := config.Validate(s,
		config.RequiredFields("EngineConfig", "HTTP.Addr"),
		config.RangeValidator("HTTP.MaxInFlight", 0, 1<<20),
		config.RangeValidator("HTTP.RateLimit", 0, 1e6),
		config.RangeValidator("Tracing.SampleRate", 0, 1),
		config.OneOfValidator("Tracing.Exporter", "none", "stdout", "zipkin", "jaeger"),
		config.OneOfValidator("Records.SQLDriver", "", "sqlite3", "postgres", "pgx"),
		config.OneOfValidator("Log.Format", "text", "json"),
	)
	if err != nil {
		return &core.Error{Code: core.CodeInvalidConfig, Message: err.Error()}
	}
	if s.Operator.Unit <= 0 {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "operator unit must be positive"}
	}
	if s.Records.SQLDriver != "" && s.Records.SQLDSN == "" {
		return &core.Error{Code: core.CodeInvalidConfig, Message: "records.sql_dsn is required with records.sql_driver"}
	}
	return nil
}

// ConfigDir returns the per-user settings directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "callcenter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callcenter"
	}
	return filepath.Join(home, ".config", "callcenter")
}
