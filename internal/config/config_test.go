package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: info\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base_url = %q", cfg.LLM.BaseURL)
	}
	if cfg.Agent.MaxToolDepth != 5 {
		t.Errorf("max_tool_depth = %d, want 5", cfg.Agent.MaxToolDepth)
	}
	if !cfg.Pipeline.FasterFirst() {
		t.Error("faster first response should default to enabled")
	}
	if cfg.Outputs.DeviceName != "kotori" {
		t.Errorf("device_name = %q", cfg.Outputs.DeviceName)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "llm:\n  api_key: ${KOTORI_TEST_KEY}\n")
	os.Setenv("KOTORI_TEST_KEY", "secret123")
	defer os.Unsetenv("KOTORI_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.LLM.APIKey, "secret123")
	}
}

func TestLoad_ToolServers(t *testing.T) {
	path := writeConfig(t, `
tool_servers:
  calc:
    type: stdio
    command: calc-server
    args: ["--fast"]
    env:
      CALC_MODE: precise
  weather:
    type: websocket
    url: ws://localhost:9000/mcp
    connect_timeout_sec: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	calc := cfg.ToolServers["calc"]
	if calc.Type != "stdio" || calc.Command != "calc-server" {
		t.Errorf("calc server = %+v", calc)
	}
	if calc.Env["CALC_MODE"] != "precise" {
		t.Errorf("calc env = %v", calc.Env)
	}

	weather := cfg.ToolServers["weather"]
	if weather.Type != "websocket" || weather.URL != "ws://localhost:9000/mcp" {
		t.Errorf("weather server = %+v", weather)
	}
	if weather.ConnectTimeout() != 3*time.Second {
		t.Errorf("connect timeout = %v, want 3s", weather.ConnectTimeout())
	}
}

func TestServerConfigTimeoutDefaults(t *testing.T) {
	var s ServerConfig
	if s.ConnectTimeout() != 10*time.Second {
		t.Errorf("connect = %v", s.ConnectTimeout())
	}
	if s.ListTimeout() != 5*time.Second {
		t.Errorf("list = %v", s.ListTimeout())
	}
	if s.CallTimeout() != 30*time.Second {
		t.Errorf("call = %v", s.CallTimeout())
	}
}

func TestPipelineFasterFirstOverride(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  faster_first_response: false\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Pipeline.FasterFirst() {
		t.Error("explicit false should disable faster first response")
	}
}
