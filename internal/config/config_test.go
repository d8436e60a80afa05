package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "version: 1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Executor.MaxConcurrency)
	assert.Equal(t, 80, cfg.Memory.ThresholdPercent)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_OverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `
version: 1
server:
  http_port: 9000
executor:
  max_concurrency: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 10, cfg.Executor.MaxConcurrency)
	// Untouched defaults survive alongside the override.
	assert.Equal(t, 30*time.Second, cfg.Executor.DefaultTimeout)
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm.yaml", `
llm:
  default_model: gpt-test
  providers:
    - name: test-provider
      api_key_env: TEST_PROVIDER_KEY
`)
	path := writeConfigFile(t, dir, "config.yaml", `
version: 1
include: llm.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", cfg.LLM.DefaultModel)
	require.Len(t, cfg.LLM.Providers, 1)
	assert.Equal(t, "test-provider", cfg.LLM.Providers[0].Name)
}

func TestLoad_IncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "include: b.yaml\n")
	path := writeConfigFile(t, dir, "b.yaml", "include: a.yaml\n")

	_, err := LoadRaw(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_RejectsFutureVersion(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "version: 999\n")

	_, err := Load(path)
	require.Error(t, err)
	var ve *VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "newer than this build", ve.Reason)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "version: 1\nbogus_field: true\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPPort = 70000
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnnamedProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Providers = []ProviderConfig{{APIKeyEnv: "X"}}
	require.Error(t, cfg.Validate())
}

func TestProviderConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRA_TEST_KEY", "secret-value")
	p := ProviderConfig{APIKeyEnv: "ORCHESTRA_TEST_KEY"}
	assert.Equal(t, "secret-value", p.APIKey())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "version: 1\nserver:\n  http_port: 8080\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 8080, w.Get().Server.HTTPPort)

	writeConfigFile(t, dir, "config.yaml", "version: 1\nserver:\n  http_port: 8123\n")

	require.Eventually(t, func() bool {
		return w.Get().Server.HTTPPort == 8123
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_KeepsPreviousConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "version: 1\nserver:\n  http_port: 8080\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	writeConfigFile(t, dir, "config.yaml", "version: 1\nserver:\n  http_port: 999999\n")

	// Give the watcher goroutine a chance to process and reject the change.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 8080, w.Get().Server.HTTPPort)
}
