package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(filepath.Join(tmpDir, DefaultConfigFilename))

	cfg := &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		APIKey:          "test-key",
		DefaultProvider: "openai-custom",
		Retry:           RetryConfig{MaxRetries: 5, BaseDelayMS: 250},
	}

	require.NoError(t, manager.Save(cfg))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", loaded.Host)
	assert.Equal(t, 8080, loaded.Port)
	assert.Equal(t, "test-key", loaded.APIKey)
	assert.Equal(t, "openai-custom", loaded.DefaultProvider)
	assert.Equal(t, 5, loaded.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, loaded.Retry.BaseDelay())
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key":"k"}`), 0o644))

	cfg, err := NewManager(path).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxRetries, cfg.Retry.MaxRetries)
	assert.Equal(t, DefaultBaseDelayMS, cfg.Retry.BaseDelayMS)
	assert.Equal(t, "append", cfg.SystemPrompt.Mode)
	assert.Equal(t, "none", cfg.ConversationLog.Mode)
}

func TestConfig_GetWithoutFileFallsBackToDefaults(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "missing.json"))
	cfg := manager.Get()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestConfig_ReadSystemPrompt(t *testing.T) {
	tmpDir := t.TempDir()
	promptPath := filepath.Join(tmpDir, "prompt.txt")
	require.NoError(t, os.WriteFile(promptPath, []byte("always answer in haiku\n"), 0o644))

	cfg := &Config{SystemPrompt: SystemPromptConfig{File: promptPath}}
	prompt, err := cfg.ReadSystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "always answer in haiku", prompt)

	empty := &Config{}
	prompt, err = empty.ReadSystemPrompt()
	require.NoError(t, err)
	assert.Empty(t, prompt)

	broken := &Config{SystemPrompt: SystemPromptConfig{File: filepath.Join(tmpDir, "missing.txt")}}
	_, err = broken.ReadSystemPrompt()
	assert.Error(t, err)
}

func TestLoadProviderPools_BothShapes(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "provider.json")
	doc := `{
		"openai-custom": [
			{"name": "primary", "api_key": "sk-1", "base_url": "https://api.openai.com/v1"},
			{"uuid": "fixed-uuid", "api_key": "sk-2", "base_url": "https://other.example/v1",
			 "model_mapping": {"gpt-4": "gpt-4-turbo"}}
		],
		"claude-custom": {"providers": [
			{"name": "anthropic", "api_key": "sk-ant", "base_url": "https://api.anthropic.com/v1"}
		]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	pools, err := LoadProviderPools(path)
	require.NoError(t, err)
	require.Len(t, pools, 2)

	openai := pools["openai-custom"]
	require.Len(t, openai, 2)
	assert.NotEmpty(t, openai[0].UUID)
	assert.True(t, openai[0].Healthy)
	assert.Equal(t, "openai-custom", openai[0].ProviderType)
	assert.Equal(t, "fixed-uuid", openai[1].UUID)
	assert.Equal(t, "gpt-4-turbo", openai[1].ModelMapping["gpt-4"])

	claude := pools["claude-custom"]
	require.Len(t, claude, 1)
	assert.Equal(t, "anthropic", claude[0].Name)
}

func TestLoadModels(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "models.json")
	doc := `{
		"openai-custom": [{"id": "gpt-4", "name": "GPT-4"}, {"id": "gpt-4o-mini"}],
		"gemini-cli-oauth": [{"id": "gemini-2.0-flash", "name": "Gemini 2.0 Flash"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	models, err := LoadModels(path)
	require.NoError(t, err)
	require.Len(t, models["openai-custom"], 2)
	assert.Equal(t, "GPT-4", models["openai-custom"][0].Name)
	require.Len(t, models["gemini-cli-oauth"], 1)
}
