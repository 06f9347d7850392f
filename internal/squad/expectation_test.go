package squad

import (
	"strings"
	"testing"

	"github.com/crewline/crewline/pkg/models"
)

func TestInferExpectation(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		tools       []string
		want        expectation
	}{
		{
			name:        "file write with file tools",
			instruction: "Write the quarterly report file summary.md in the workspace",
			tools:       []string{"mcp_all"},
			want:        expectation{FileEffects: true, ToolExecution: true},
		},
		{
			name:        "file intent without file tools",
			instruction: "Write the quarterly report file summary.md",
			tools:       []string{"web_search"},
			want:        expectation{},
		},
		{
			name:        "shell intent with shell tool",
			instruction: "Run the test suite and report failures",
			tools:       []string{"shell_execute"},
			want:        expectation{ShellEffects: true, ToolExecution: true},
		},
		{
			name:        "research intent with web tool",
			instruction: "Research the library's release notes",
			tools:       []string{"web_search"},
			want:        expectation{ToolExecution: true},
		},
		{
			name:        "pure prose task",
			instruction: "Summarize our discussion so far",
			tools:       []string{"mcp_all", "shell_execute"},
			want:        expectation{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferExpectation(tt.instruction, tt.tools); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	exp := expectation{FileEffects: true, ToolExecution: true}

	if reason, ok := exp.verify(nil); ok || !strings.Contains(reason, "none were executed") {
		t.Errorf("nil summary: %q %v", reason, ok)
	}
	if reason, ok := exp.verify(&models.ToolExecutionSummary{Attempted: 2, Succeeded: 2}); ok || !strings.Contains(reason, "file write") {
		t.Errorf("no file effects: %q %v", reason, ok)
	}
	if _, ok := exp.verify(&models.ToolExecutionSummary{Attempted: 1, Succeeded: 1, VerifiedFileEffects: 1}); !ok {
		t.Error("verified file effect should pass")
	}

	if _, ok := (expectation{}).verify(nil); !ok {
		t.Error("no expectations means verification always passes")
	}

	shell := expectation{ShellEffects: true, ToolExecution: true}
	if reason, ok := shell.verify(&models.ToolExecutionSummary{Attempted: 1, Succeeded: 1}); ok || !strings.Contains(reason, "shell execution") {
		t.Errorf("no shell effects: %q %v", reason, ok)
	}
}
