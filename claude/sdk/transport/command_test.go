package transport

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestBuildCommandStreaming(t *testing.T) {
	turns := 3
	tr, err := NewSubprocessCLITransport(TransportOptions{
		Cwd:                      t.TempDir(),
		Model:                    "claude-sonnet-4-5",
		PermissionPromptToolName: "stdio",
		AllowedTools:             []string{"Read", "Glob"},
		MaxTurns:                 &turns,
		ExtraArgs: map[string]*string{
			"replay-user-messages": nil,
			"--debug-to-stderr":    nil,
			"betas":                strPtr("x"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tr.cliPath = "/bin/claude"

	args := tr.buildCommand()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"/bin/claude --output-format stream-json --verbose",
		"--model claude-sonnet-4-5",
		"--permission-prompt-tool stdio",
		"--allowedTools Read,Glob",
		"--max-turns 3",
		"--debug-to-stderr --betas x --replay-user-messages",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv missing %q:\n%s", want, joined)
		}
	}

	if got := args[len(args)-2:]; got[0] != "--input-format" || got[1] != "stream-json" {
		t.Errorf("streaming argv should end with --input-format stream-json, got %v", got)
	}
	if slices.Contains(args, "--print") {
		t.Error("streaming mode must not pass --print")
	}
}

func TestBuildCommandOneShot(t *testing.T) {
	tr, err := NewSubprocessCLITransportWithPrompt("--not-a-flag", TransportOptions{Cwd: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	tr.cliPath = "claude"

	args := tr.buildCommand()
	tail := args[len(args)-3:]
	if tail[0] != "--print" || tail[1] != "--" || tail[2] != "--not-a-flag" {
		t.Errorf("one-shot argv tail = %v", tail)
	}
	if slices.Contains(args, "--input-format") {
		t.Error("one-shot mode must not pass --input-format")
	}

	i := slices.Index(args, "--setting-sources")
	if i < 0 || args[i+1] != "" {
		t.Errorf("expected empty --setting-sources, got %v", args)
	}
}

func TestBuildEnv(t *testing.T) {
	dir := t.TempDir()
	tr, _ := NewSubprocessCLITransport(TransportOptions{
		Cwd:                     dir,
		Env:                     map[string]string{"CLAUDE_CODE_ENTRYPOINT": "spoofed", "FOO": "bar"},
		EnableFileCheckpointing: true,
	})

	env := tr.buildEnv()
	last := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		last[k] = v
	}

	if last["CLAUDE_CODE_ENTRYPOINT"] != "sdk-go" {
		t.Errorf("entrypoint = %q, want sdk-go", last["CLAUDE_CODE_ENTRYPOINT"])
	}
	if last["CLAUDE_AGENT_SDK_VERSION"] != SDKVersion {
		t.Errorf("sdk version = %q", last["CLAUDE_AGENT_SDK_VERSION"])
	}
	if last["CLAUDE_CODE_ENABLE_SDK_FILE_CHECKPOINTING"] != "true" {
		t.Error("checkpointing flag missing")
	}
	if last["FOO"] != "bar" {
		t.Error("caller env not passed through")
	}
	if last["PWD"] != dir {
		t.Errorf("PWD = %q, want %q", last["PWD"], dir)
	}
}

func TestFindCLI(t *testing.T) {
	t.Run("override exists", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "my-claude")
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		got, err := FindCLI(path)
		if err != nil || got != path {
			t.Fatalf("FindCLI(%q) = %q, %v", path, got, err)
		}
	})

	t.Run("override missing", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope", "claude")
		_, err := FindCLI(missing)
		if !errors.Is(err, ErrCLINotFound) {
			t.Fatalf("expected ErrCLINotFound, got %v", err)
		}
		var nf *CLINotFoundError
		if !errors.As(err, &nf) || nf.Path != missing {
			t.Fatalf("expected *CLINotFoundError for %q, got %#v", missing, err)
		}
	})

	t.Run("discovery failure", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		t.Setenv("HOME", t.TempDir())
		if _, err := os.Stat("/usr/local/bin/claude"); err == nil {
			t.Skip("a system-wide claude is installed")
		}
		_, err := FindCLI("")
		var nf *CLINotFoundError
		if !errors.As(err, &nf) || len(nf.Searched) == 0 {
			t.Fatalf("expected *CLINotFoundError with searched locations, got %v", err)
		}
	})
}

func TestParseCLIVersion(t *testing.T) {
	tests := []struct {
		output string
		want   string
		ok     bool
		below  bool
	}{
		{"2.0.14 (Claude Code)\n", "v2.0.14", true, false},
		{"claude 1.0.128", "v1.0.128", true, true},
		{"10.2.0", "v10.2.0", true, false},
		{"unknown", "", false, false},
	}
	for _, tt := range tests {
		got, ok := parseCLIVersion(tt.output)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCLIVersion(%q) = %q, %v; want %q, %v", tt.output, got, ok, tt.want, tt.ok)
			continue
		}
		if ok && versionBelowMinimum(got) != tt.below {
			t.Errorf("versionBelowMinimum(%q) = %v, want %v", got, !tt.below, tt.below)
		}
	}
}
