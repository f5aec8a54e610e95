package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath, logLevel = "config.yaml", "info"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	slo := writeFile(t, dir, "SLO_config.json", `{"SLO_Queries": [
		{"service": "3scale", "queries": [
			{"metric": "availability", "query": "q1", "target_slo": "0.99"},
			{"metric": "errRate", "query": "q2", "target_slo": "0.01"}]}]}`)
	apps := writeFile(t, dir, "deployment_config.json", `{"apps": ["frontend", "api"]}`)
	cfg := writeFile(t, dir, "config.yaml", `
agent:
  slo_config: `+slo+`
backend:
  endpoint: "https://prometheus.example.net"
deployments:
  enabled: true
  config: `+apps+`
`)

	out, err := execute(t, "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "queries:  2 across 1 services")
	assert.Contains(t, out, "deploys:  2 apps in insights-production")
}

func TestValidate_BadRegistry(t *testing.T) {
	dir := t.TempDir()
	slo := writeFile(t, dir, "SLO_config.json", `{"SLO_Queries": [{"service": "a", "queries": [
		{"metric": "m", "query": "q", "target_slo": 0.9},
		{"metric": "m", "query": "q", "target_slo": 0.9}]}]}`)
	cfg := writeFile(t, dir, "config.yaml", "agent:\n  slo_config: "+slo+"\nbackend:\n  endpoint: \"http://localhost:9090\"\n")

	_, err := execute(t, "validate", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate pair")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "validate", "--log-level", "loud", "--config", "missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}
