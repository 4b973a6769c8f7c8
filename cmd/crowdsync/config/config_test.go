package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("CROWDSYNC_TEST_VAR", "from-env")

	if got := getEnv("CROWDSYNC_TEST_VAR", "default"); got != "from-env" {
		t.Errorf("getEnv() = %q, want from-env", got)
	}
	if got := getEnv("CROWDSYNC_NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"valid integer", "42", 42},
		{"invalid integer", "not-a-number", 10},
		{"not set", "", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CROWDSYNC_TEST_INT", tt.envValue)
			if got := getEnvInt("CROWDSYNC_TEST_INT", 10); got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"go syntax", "90s", 90 * time.Second},
		{"days", "2d", 48 * time.Hour},
		{"invalid", "soon", time.Minute},
		{"not set", "", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CROWDSYNC_TEST_DURATION", tt.envValue)
			if got := getEnvDuration("CROWDSYNC_TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5m", want: 5 * time.Minute},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "1d", want: 24 * time.Hour},
		{in: " 7d ", want: 7 * 24 * time.Hour},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "1.5d", wantErr: true},
		{in: "d", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = []string{"cmd"}

	cfg := ParseFlags()

	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.Storage != "memory" {
		t.Errorf("Storage = %q, want memory", cfg.Storage)
	}
	if cfg.ConfigFile != "config.yml" {
		t.Errorf("ConfigFile = %q, want config.yml", cfg.ConfigFile)
	}
	if cfg.GRPCListen != "" {
		t.Errorf("GRPCListen = %q, want empty", cfg.GRPCListen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfig_CustomValues(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = []string{
		"cmd",
		"-listen=:9090",
		"-grpc-listen=:9091",
		"-storage=badger",
		"-badger-path=/tmp/snap",
		"-log-format=json",
		"-log-level=debug",
		"-config-file=endpoints.yml",
	}

	cfg := ParseFlags()

	if cfg.Listen != ":9090" || cfg.GRPCListen != ":9091" {
		t.Errorf("listen addresses = %q, %q", cfg.Listen, cfg.GRPCListen)
	}
	if cfg.Storage != "badger" || cfg.BadgerPath != "/tmp/snap" {
		t.Errorf("storage = %q at %q", cfg.Storage, cfg.BadgerPath)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "debug" {
		t.Errorf("logging = %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.ConfigFile != "endpoints.yml" {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Storage: "memory"}, false},
		{"unknown storage", Config{Storage: "s3"}, true},
		{"redis without address", Config{Storage: "redis"}, true},
		{"cert without key", Config{Storage: "memory", TLSCertFile: "c.pem"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

const fullEndpoints = `
live:
  source:
    kind: influxdb
    params:
      url: http://influx:8086
      org: resetting
      bucket: pedestrians
      entityColumn: location
  interval: 1h
  initialOffset: 1d
  maxBufferSize: 48
  consistency: eventual
history:
  source:
    kind: static
    params:
      path: /data/history.json
  derived:
    net: in - out
forecast:
  source:
    kind: prometheus
    params:
      query: sum by (location) (people_total)
  interval: 1h
  lookback: 1w
  modelParams:
    seasonality: 24
`

func TestParseEndpoints_Defaults(t *testing.T) {
	eps, err := ParseEndpoints([]byte(fullEndpoints))
	if err != nil {
		t.Fatalf("ParseEndpoints: %v", err)
	}

	live := eps.Live.Cursor()
	if live.Interval != time.Hour || live.InitialOffset != 24*time.Hour || live.MaxBufferSize != 48 {
		t.Errorf("unexpected live cursor config %+v", live)
	}
	if live.TTL != 24*time.Hour {
		t.Errorf("expected default client TTL 24h, got %v", live.TTL)
	}
	if eps.Live.Source.Params["bucket"] != "pedestrians" {
		t.Errorf("source params not decoded: %v", eps.Live.Source.Params)
	}

	if eps.History.Derived["net"] != "in - out" {
		t.Errorf("derived not decoded: %v", eps.History.Derived)
	}

	f := eps.Forecast
	if f.Model != "sarima" || f.NSimulations != 1000 || f.Refresh.D() != 5*time.Minute {
		t.Errorf("unexpected forecast defaults %+v", f)
	}
	if f.Lookback.D() != 7*24*time.Hour {
		t.Errorf("expected lookback 1w, got %v", f.Lookback.D())
	}
	fc := f.Fusion()
	if fc.Metric != "total_of_directions" || fc.MinSteps != 48 || fc.OutputLength != 96 || fc.MaxGap != 24*time.Hour {
		t.Errorf("unexpected fusion config %+v", fc)
	}
	if f.ModelParams["seasonality"] != 24 {
		t.Errorf("model params not decoded: %v", f.ModelParams)
	}
	if f.StepSeconds() != 3600 {
		t.Errorf("StepSeconds() = %d", f.StepSeconds())
	}
}

func TestParseEndpoints_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "{}", "declares no endpoint"},
		{"missing kind", "live:\n  interval: 1h\n", `endpoint "live": source.kind is required`},
		{"bad duration", "live:\n  source: {kind: static}\n  interval: soon\n", "invalid duration"},
		{"bad policy", "live:\n  source: {kind: static}\n  consistency: strong\n", "consistency policy"},
		{"reserved derived", "history:\n  source: {kind: static}\n  derived: {Density: a}\n", "reserved metric name"},
		{"bad expression", "history:\n  source: {kind: static}\n  derived: {x: a +}\n", "syntax error"},
		{"byom without endpoint", "forecast:\n  source: {kind: static}\n  model: byom\n", "modelEndpoint is required"},
		{"unknown model", "forecast:\n  source: {kind: static}\n  model: lstm\n", "invalid model"},
		{"window too short", "forecast:\n  source: {kind: static}\n  minSteps: 10\n  outputLength: 5\n", "output length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEndpoints([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(fullEndpoints), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEndpoints(path); err != nil {
		t.Fatalf("LoadEndpoints: %v", err)
	}
	if _, err := LoadEndpoints(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}
