package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fridge-tetris/internal/llm"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.Env)
	assert.False(t, cfg.Backend.UseLocalRunner)
	assert.Equal(t, "http://localhost:11434", cfg.Backend.LocalRunnerURL)
	assert.Equal(t, 120*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Backend.ReadyTimeout)
	assert.EqualValues(t, llm.DefaultMaxImageBytes, cfg.Backend.MaxImageBytes)
	assert.Equal(t, "0.0.0.0:7860", cfg.ListenAddr())
	assert.False(t, cfg.Server.PublicShare)
	assert.Equal(t, "prompt.txt", cfg.Prompt.Path)

	bc := cfg.LLMBackend()
	assert.Equal(t, llm.BackendVLLM, bc.Type)
	assert.Equal(t, llm.DefaultVLLMModel, bc.Model)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("USE_OLLAMA", "true")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	t.Setenv("OLLAMA_MODEL", "llava:13b")
	t.Setenv("VLLM_API_KEY", "ignored-for-ollama")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("SHARE", "true")
	t.Setenv("INFERENCE_TIMEOUT", "45s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Server.PublicShare)
	assert.Equal(t, 8080, cfg.Server.Port)

	bc := cfg.LLMBackend()
	assert.Equal(t, llm.BackendOllama, bc.Type)
	assert.Equal(t, "http://ollama:11434", bc.Endpoint)
	assert.Equal(t, "llava:13b", bc.Model)
	assert.Empty(t, bc.APIKey)
	assert.Equal(t, 45*time.Second, bc.Timeout)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad env", "APP_ENV", "staging"},
		{"bad port", "SERVER_PORT", "70000"},
		{"bad url", "VLLM_URL", "ftp://gpu:8000"},
		{"not a bool", "USE_OLLAMA", "maybe"},
		{"zero timeout", "INFERENCE_TIMEOUT", "0s"},
		{"negative timeout", "INFERENCE_TIMEOUT", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}

	t.Run("zero timeout message", func(t *testing.T) {
		t.Setenv("INFERENCE_TIMEOUT", "0s")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inference timeout must be positive")
	})
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fridge-tetris.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
env = "prod"

[backend]
use_local_runner = true
local_model = "qwen2.5vl:3b"
timeout = "90s"

[server]
port = 9000
`), 0o644))

	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvProd, cfg.Env)
	assert.True(t, cfg.Backend.UseLocalRunner)
	assert.Equal(t, "qwen2.5vl:3b", cfg.Backend.LocalModel)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Backend.LocalRunnerURL)
}

func TestWriteDefault(t *testing.T) {
	t.Setenv("VLLM_API_KEY", "sk-should-not-be-written")

	path := filepath.Join(t.TempDir(), "conf", "fridge-tetris.toml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-should-not-be-written")
	assert.Contains(t, string(data), "[backend]")

	assert.Error(t, WriteDefault(path), "existing file must not be overwritten")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7860, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Backend.Timeout)
}
