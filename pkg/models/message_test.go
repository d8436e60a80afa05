package models

import "testing"

func TestToolResult_IsError(t *testing.T) {
	ok := ToolResult{Result: []byte(`"done"`)}
	if ok.IsError() {
		t.Error("expected IsError false when Error is empty")
	}

	bad := ToolResult{Error: "boom"}
	if !bad.IsError() {
		t.Error("expected IsError true when Error is set")
	}
}

func TestAgentConfig_IsSensitive(t *testing.T) {
	cfg := AgentConfig{SensitiveToolNames: map[string]bool{"run_command": true}}
	if !cfg.IsSensitive("run_command") {
		t.Error("expected run_command to be sensitive")
	}
	if cfg.IsSensitive("list_directory") {
		t.Error("expected list_directory to not be sensitive")
	}
}

func TestAgentConfig_IsSensitive_NilMap(t *testing.T) {
	var cfg AgentConfig
	if cfg.IsSensitive("anything") {
		t.Error("expected false on nil SensitiveToolNames map")
	}
}
