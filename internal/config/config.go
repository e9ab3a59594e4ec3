package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Inference InferenceConfig
	Storage   StorageConfig
	Capture   CaptureConfig
	Matcher   MatcherConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type InferenceConfig struct {
	// Provider selects the backend: "ollama" or "openai".
	Provider      string
	Model         string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	UseThinking   bool
}

type StorageConfig struct {
	DataDir string
}

type CaptureConfig struct {
	// Command is the helper argv as a single space-separated string.
	Command             string
	TimeoutSeconds      int
	IntervalSeconds     int
	CycleTimeoutSeconds int
}

type MatcherConfig struct {
	AcceptThreshold   float64
	CompleteThreshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4520,
			MCPPort: 4521,
		},
		Inference: InferenceConfig{
			Provider:      "ollama",
			Model:         "qwen3",
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Capture: CaptureConfig{
			Command:             "taskmind-capture",
			TimeoutSeconds:      10,
			IntervalSeconds:     30,
			CycleTimeoutSeconds: 60,
		},
		Matcher: MatcherConfig{
			AcceptThreshold:   0.6,
			CompleteThreshold: 0.8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.taskmind.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/taskmind/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (TASKMIND_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Inference.Provider == "openai" && cfg.Inference.OpenAIAPIKey == "" {
		if key, err := kc.Get("taskmind", "openai_api_key"); err == nil && key != "" {
			cfg.Inference.OpenAIAPIKey = key
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Inference.Provider {
	case "ollama":
	case "openai":
		if cfg.Inference.OpenAIAPIKey == "" {
			return fmt.Errorf("missing required config: OpenAI API key. "+
				"Set it via environment variable TASKMIND_OPENAI_API_KEY%s", apiKeyHint())
		}
	default:
		return fmt.Errorf("unknown inference provider %q (want ollama or openai)", cfg.Inference.Provider)
	}

	if cfg.Matcher.AcceptThreshold <= 0 || cfg.Matcher.AcceptThreshold > 1 {
		return fmt.Errorf("matcher.accept_threshold %v out of range (0,1]", cfg.Matcher.AcceptThreshold)
	}
	if cfg.Matcher.CompleteThreshold <= 0 || cfg.Matcher.CompleteThreshold > 1 {
		return fmt.Errorf("matcher.complete_threshold %v out of range (0,1]", cfg.Matcher.CompleteThreshold)
	}
	if cfg.Matcher.AcceptThreshold > cfg.Matcher.CompleteThreshold {
		return fmt.Errorf("matcher.accept_threshold %v exceeds matcher.complete_threshold %v",
			cfg.Matcher.AcceptThreshold, cfg.Matcher.CompleteThreshold)
	}

	if cfg.Capture.IntervalSeconds <= 0 {
		return fmt.Errorf("capture.interval_seconds must be positive, got %d", cfg.Capture.IntervalSeconds)
	}
	return nil
}

// CaptureArgv splits the configured helper command into argv.
func (c Config) CaptureArgv() []string {
	return strings.Fields(c.Capture.Command)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
