// Package config loads the process configuration once at startup. Values come
// from an optional TOML file and are then overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"

	"fridge-tetris/internal/llm"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	DefaultConfigPath = "fridge-tetris.toml"
)

// Config is the root configuration structure. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Env     string        `toml:"env" env:"APP_ENV" env-default:"local" env-description:"logging profile: local, dev or prod"`
	Backend BackendConfig `toml:"backend"`
	Server  ServerConfig  `toml:"server"`
	Prompt  PromptConfig  `toml:"prompt"`
}

// BackendConfig selects and tunes the model backend.
type BackendConfig struct {
	UseLocalRunner bool          `toml:"use_local_runner" env:"USE_OLLAMA" env-default:"false" env-description:"use the local Ollama runner instead of the vLLM server"`
	LocalRunnerURL string        `toml:"local_runner_url" env:"OLLAMA_URL" env-default:"http://localhost:11434" env-description:"Ollama base URL"`
	LocalModel     string        `toml:"local_model" env:"OLLAMA_MODEL" env-default:"qwen2.5vl:7b" env-description:"vision model pulled into Ollama"`
	HostedURL      string        `toml:"hosted_url" env:"VLLM_URL" env-default:"http://localhost:8000" env-description:"OpenAI-compatible inference server base URL"`
	HostedModel    string        `toml:"hosted_model" env:"VLLM_MODEL" env-default:"Qwen/Qwen2.5-VL-7B-Instruct" env-description:"model served by the inference server"`
	HostedAPIKey   string        `toml:"hosted_api_key" env:"VLLM_API_KEY" env-description:"bearer token for the inference server"`
	Timeout        time.Duration `toml:"timeout" env:"INFERENCE_TIMEOUT" env-default:"120s" env-description:"per-request backend timeout"`
	ReadyTimeout   time.Duration `toml:"ready_timeout" env:"READY_TIMEOUT" env-default:"10m" env-description:"how long serve waits for the hosted model at startup"`
	MaxImageBytes  int64         `toml:"max_image_bytes" env:"MAX_IMAGE_BYTES" env-default:"20971520" env-description:"upper bound for each uploaded photo"`
}

// ServerConfig is consumed by the HTTP presentation layer only.
type ServerConfig struct {
	Name        string  `toml:"name" env:"SERVER_NAME" env-default:"0.0.0.0" env-description:"listen host"`
	Port        int     `toml:"port" env:"SERVER_PORT" env-default:"7860" env-description:"listen port"`
	PublicShare bool    `toml:"public_share" env:"SHARE" env-default:"false" env-description:"allow cross-origin access from any site"`
	RateLimit   float64 `toml:"rate_limit" env:"RATE_LIMIT" env-default:"1" env-description:"packing plans per second across all clients"`
	RateBurst   int     `toml:"rate_burst" env:"RATE_BURST" env-default:"4" env-description:"burst size for the rate limiter"`
}

// PromptConfig locates the base prompt template.
type PromptConfig struct {
	Path string `toml:"path" env:"PROMPT_PATH" env-default:"prompt.txt" env-description:"prompt template path or URL"`
}

// Load reads path (if it exists) and then the environment. An empty path, or
// a path that does not exist, means environment and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" && fileExists(path) {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(cfg, nil)
		return nil, fmt.Errorf("config: %w; %s", err, desc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env must be one of local, dev, prod; got %q", c.Env))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit cannot be negative"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inference timeout must be positive; got %s", c.Backend.Timeout))
	}
	if strings.TrimSpace(c.Prompt.Path) == "" {
		errs = append(errs, fmt.Errorf("%w: prompt path", llm.ErrConfigurationMissing))
	}

	bc := c.LLMBackend()
	if err := bc.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LLMBackend derives the immutable backend configuration for the selected
// variant. Only the selected variant's fields are copied.
func (c *Config) LLMBackend() llm.BackendConfig {
	if c.Backend.UseLocalRunner {
		return llm.BackendConfig{
			Type:          llm.BackendOllama,
			Name:          "ollama",
			Endpoint:      c.Backend.LocalRunnerURL,
			Model:         c.Backend.LocalModel,
			Timeout:       c.Backend.Timeout,
			MaxImageBytes: c.Backend.MaxImageBytes,
		}
	}
	return llm.BackendConfig{
		Type:          llm.BackendVLLM,
		Name:          "vllm",
		Endpoint:      c.Backend.HostedURL,
		Model:         c.Backend.HostedModel,
		APIKey:        c.Backend.HostedAPIKey,
		Timeout:       c.Backend.Timeout,
		MaxImageBytes: c.Backend.MaxImageBytes,
	}
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Name, strconv.Itoa(c.Server.Port))
}

// WriteDefault writes the defaults, with any environment overrides applied, as
// TOML. An existing file is never overwritten.
func WriteDefault(path string) error {
	if fileExists(path) {
		return fmt.Errorf("config file %s already exists", path)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return err
	}
	// Secrets stay out of files written to disk.
	cfg.Backend.HostedAPIKey = ""

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
