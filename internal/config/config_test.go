package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/utils"
)

func TestInitConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("LLM_PROVIDER", "openrouter")
	t.Setenv("LLM_API_KEY", "sk-env")
	t.Setenv("CONFIG_SECRET", "")

	require.NoError(t, InitConfig(dir))

	cfg := GetCurrentConfig()
	assert.Equal(t, "openrouter", cfg.LLMProvider)
	assert.Equal(t, "sk-env", cfg.LLMConfig["api_key"])
	assert.Equal(t, DefaultFastModel, cfg.LLMConfig["fast_model"])
	assert.Equal(t, DefaultProModel, cfg.LLMConfig["pro_model"])

	// 返回的是副本
	cfg.LLMConfig["api_key"] = "mutated"
	assert.Equal(t, "sk-env", GetCurrentConfig().LLMConfig["api_key"])
}

func TestSavedKeyIsEncryptedWhenSecretSet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("CONFIG_SECRET", "s3cret")

	require.NoError(t, InitConfig(dir))
	require.NoError(t, UpdateLLMConfig("gemini", map[string]string{"api_key": "sk-saved", "pro_model": "custom-pro"}))

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	var onDisk AppConfig
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.True(t, utils.IsEncrypted(onDisk.LLMConfig["api_key"]))
	assert.NotContains(t, string(raw), "sk-saved")

	// 重新加载后可解密
	require.NoError(t, InitConfig(dir))
	cfg := GetCurrentConfig()
	assert.Equal(t, "sk-saved", cfg.LLMConfig["api_key"])
	assert.Equal(t, "custom-pro", cfg.LLMConfig["pro_model"])
}

func TestUpdateLLMConfigKeepsEmptyValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("LLM_API_KEY", "sk-1")

	require.NoError(t, InitConfig(dir))
	require.NoError(t, UpdateLLMConfig("", map[string]string{"api_key": "", "fast_model": "f2"}))

	cfg := GetCurrentConfig()
	assert.Equal(t, "sk-1", cfg.LLMConfig["api_key"])
	assert.Equal(t, "f2", cfg.LLMConfig["fast_model"])
}
