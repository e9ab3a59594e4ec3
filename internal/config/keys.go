package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TASKMIND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "TASKMIND_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "inference.provider", typ: kString, env: "TASKMIND_INFERENCE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Inference.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Provider },
	},
	{
		key: "inference.model", typ: kString, env: "TASKMIND_INFERENCE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Model },
	},
	{
		key: "inference.ollama_base_url", typ: kString, env: "TASKMIND_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Inference.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.OllamaBaseURL },
	},
	{
		key: "inference.openai_base_url", typ: kString, env: "TASKMIND_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Inference.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.OpenAIBaseURL },
	},
	{
		key: "inference.openai_api_key", typ: kString, env: "TASKMIND_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Inference.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.OpenAIAPIKey },
	},
	{
		key: "inference.use_thinking", typ: kBool, env: "TASKMIND_INFERENCE_USE_THINKING",
		apply:   func(cfg *Config, v any) { cfg.Inference.UseThinking = v.(bool) },
		extract: func(cfg Config) any { return cfg.Inference.UseThinking },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TASKMIND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "capture.command", typ: kString, env: "TASKMIND_CAPTURE_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Capture.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Capture.Command },
	},
	{
		key: "capture.timeout_seconds", typ: kInt, env: "TASKMIND_CAPTURE_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Capture.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Capture.TimeoutSeconds },
	},
	{
		key: "capture.interval_seconds", typ: kInt, env: "TASKMIND_CAPTURE_INTERVAL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Capture.IntervalSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Capture.IntervalSeconds },
	},
	{
		key: "capture.cycle_timeout_seconds", typ: kInt, env: "TASKMIND_CAPTURE_CYCLE_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Capture.CycleTimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Capture.CycleTimeoutSeconds },
	},
	{
		key: "matcher.accept_threshold", typ: kFloat, env: "TASKMIND_MATCHER_ACCEPT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matcher.AcceptThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matcher.AcceptThreshold },
	},
	{
		key: "matcher.complete_threshold", typ: kFloat, env: "TASKMIND_MATCHER_COMPLETE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matcher.CompleteThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matcher.CompleteThreshold },
	},
	{
		key: "log.level", typ: kString, env: "TASKMIND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
