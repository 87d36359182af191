// Package config loads the terminal client's configuration: built-in
// defaults, then an optional YAML file, then environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	orchestration "github.com/koscakluka/ema-client/core"
	"gopkg.in/yaml.v3"
)

const (
	EnvServerURL      = "MIO_SERVER_URL"
	EnvDeepgramAPIKey = "DEEPGRAM_API_KEY"
	EnvTTSMode        = "MIO_TTS_MODE"
)

type Config struct {
	ServerURL         string        `yaml:"server_url" jsonschema:"description=Base URL of the agent service,format=uri"`
	TTSMode           string        `yaml:"tts_mode" jsonschema:"description=Initial speech mode,enum=LOCAL,enum=API,enum=SILENT"`
	RequestTimeout    time.Duration `yaml:"request_timeout" jsonschema:"description=Timeout for non-streaming requests"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout" jsonschema:"description=Fail a reply stream that stays silent this long; 0 disables"`
	MicEnabled        bool          `yaml:"mic_enabled" jsonschema:"description=Start with voice capture enabled"`

	DeepgramAPIKey   string `yaml:"deepgram_api_key" jsonschema:"description=Deepgram key; voice capture is off without it"`
	DeepgramLanguage string `yaml:"deepgram_language" jsonschema:"description=Recognition language"`
	DeepgramModel    string `yaml:"deepgram_model" jsonschema:"description=Recognition model"`

	SettingsPath string `yaml:"settings_path" jsonschema:"description=File holding persisted settings such as volume"`
	LogPath      string `yaml:"log_path" jsonschema:"description=Log file; the terminal owns stdout"`
	LogLevel     string `yaml:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// fileConfig is Config as read from YAML. The pointer fields tell an
// explicit zero apart from an absent key.
type fileConfig struct {
	ServerURL         string         `yaml:"server_url"`
	TTSMode           string         `yaml:"tts_mode"`
	RequestTimeout    *time.Duration `yaml:"request_timeout"`
	StreamIdleTimeout *time.Duration `yaml:"stream_idle_timeout"`
	MicEnabled        *bool          `yaml:"mic_enabled"`

	DeepgramAPIKey   string `yaml:"deepgram_api_key"`
	DeepgramLanguage string `yaml:"deepgram_language"`
	DeepgramModel    string `yaml:"deepgram_model"`

	SettingsPath string `yaml:"settings_path"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		ServerURL:        "http://localhost:8000",
		TTSMode:          string(orchestration.ModeLocal),
		RequestTimeout:   60 * time.Second,
		DeepgramLanguage: "ja",
		DeepgramModel:    "nova-2",
		SettingsPath:     defaultSettingsPath(),
		LogPath:          "mio.log",
		LogLevel:         "info",
	}
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "mio-settings.yaml"
	}
	return filepath.Join(dir, "mio", "settings.yaml")
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := merge(&cfg, f); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// merge overlays the values set in the YAML read from r onto cfg. Empty
// strings keep the current value; durations and booleans that are present
// win even when zero.
func merge(cfg *Config, r io.Reader) error {
	var file fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}

	if err := copier.CopyWithOption(cfg, &file, copier.Option{IgnoreEmpty: true}); err != nil {
		return fmt.Errorf("merge with defaults: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if value, ok := lookup(EnvServerURL); ok && value != "" {
		cfg.ServerURL = value
	}
	if value, ok := lookup(EnvDeepgramAPIKey); ok && value != "" {
		cfg.DeepgramAPIKey = value
	}
	if value, ok := lookup(EnvTTSMode); ok && value != "" {
		cfg.TTSMode = value
	}
}

// Validate returns every problem found in cfg, joined.
func Validate(cfg Config) error {
	var errs []error

	if serverURL, err := url.Parse(cfg.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url %q is invalid: %w", cfg.ServerURL, err))
	} else if serverURL.Scheme != "http" && serverURL.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server_url %q must be http or https", cfg.ServerURL))
	}
	if _, err := orchestration.ParseTTSMode(cfg.TTSMode); err != nil {
		errs = append(errs, fmt.Errorf("tts_mode: %w", err))
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout %s must not be negative", cfg.RequestTimeout))
	}
	if cfg.StreamIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("stream_idle_timeout %s must not be negative", cfg.StreamIdleTimeout))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

func (c Config) Mode() orchestration.TTSMode {
	mode, err := orchestration.ParseTTSMode(c.TTSMode)
	if err != nil {
		return orchestration.ModeLocal
	}
	return mode
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		FieldNameTag:   "yaml",
	}
	schema := reflector.Reflect(&Config{})
	return json.MarshalIndent(schema, "", "  ")
}
