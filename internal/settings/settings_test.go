package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault_Valid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"empty engine config", func(s *Settings) { s.EngineConfig = "" }},
		{"empty http addr", func(s *Settings) { s.HTTP.Addr = "" }},
		{"negative in flight", func(s *Settings) { s.HTTP.MaxInFlight = -1 }},
		{"sample rate above one", func(s *Settings) { s.Tracing.SampleRate = 2 }},
		{"unknown exporter", func(s *Settings) { s.Tracing.Exporter = "otlp" }},
		{"unknown driver", func(s *Settings) { s.Records.SQLDriver = "mysql" }},
		{"driver without dsn", func(s *Settings) { s.Records.SQLDriver = "sqlite3" }},
		{"unknown log format", func(s *Settings) { s.Log.Format = "xml" }},
		{"zero operator unit", func(s *Settings) { s.Operator.Unit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := `
engine_config: /etc/callcenter/engine.json
operator:
  unit: 250ms
http:
  addr: ":8181"
  rate_limit: 5
records:
  file: ""
  sql_driver: sqlite3
  sql_dsn: /var/lib/callcenter/cdr.db
tracing:
  exporter: stdout
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("CALLCENTER_ADMIN_ADDR", ":9999")
	t.Setenv("CALLCENTER_LOG_FORMAT", "json")

	Init(path)
	s, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.EngineConfig != "/etc/callcenter/engine.json" {
		t.Errorf("EngineConfig = %q", s.EngineConfig)
	}
	if s.Operator.Unit != 250*time.Millisecond {
		t.Errorf("Operator.Unit = %v, want 250ms", s.Operator.Unit)
	}
	if s.HTTP.Addr != ":8181" || s.HTTP.RateLimit != 5 {
		t.Errorf("HTTP = %+v", s.HTTP)
	}
	if s.HTTP.MaxInFlight != 1000 {
		t.Errorf("HTTP.MaxInFlight = %d, want default 1000", s.HTTP.MaxInFlight)
	}
	if s.Records.File != "" || s.Records.SQLDriver != "sqlite3" {
		t.Errorf("Records = %+v", s.Records)
	}
	if s.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing.Exporter = %q, want stdout", s.Tracing.Exporter)
	}
	if s.Admin.Addr != ":9999" {
		t.Errorf("Admin.Addr = %q, want :9999 from env", s.Admin.Addr)
	}
	if s.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json from env", s.Log.Format)
	}
}

func TestLoad_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CALLCENTER_TRACING_EXPORTER", "carrier-pigeon")
	Init(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want invalid exporter error")
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != filepath.Join("/tmp/xdg", "callcenter") {
		t.Errorf("ConfigDir() = %q", got)
	}
}
