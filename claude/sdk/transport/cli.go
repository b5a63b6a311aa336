package transport

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

const (
	// MinimumClaudeCodeVersion is the minimum supported CLI version
	MinimumClaudeCodeVersion = "2.0.0"

	// SDKVersion is the version of this SDK
	SDKVersion = "0.1.0"

	// SkipVersionCheckEnv disables the startup version probe when set to any value.
	SkipVersionCheckEnv = "CLAUDE_AGENT_SDK_SKIP_VERSION_CHECK"

	versionCheckTimeout = 2 * time.Second
)

// fallbackLocations are probed in order when the CLI is not on PATH.
func fallbackLocations() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".npm-global/bin/claude"),
		"/usr/local/bin/claude",
		filepath.Join(home, ".local/bin/claude"),
		filepath.Join(home, "node_modules/.bin/claude"),
		filepath.Join(home, ".yarn/bin/claude"),
		filepath.Join(home, ".claude/local/claude"),
	}
}

// FindCLI resolves the CLI executable: the explicit override when given,
// then PATH, then the well-known install locations.
func FindCLI(override string) (string, error) {
	if override != "" {
		if isExecutableFile(override) {
			return override, nil
		}
		// A bare name such as "claude-dev" is looked up on PATH.
		if !strings.ContainsRune(override, os.PathSeparator) {
			if path, err := exec.LookPath(override); err == nil {
				return path, nil
			}
		}
		return "", &CLINotFoundError{Path: override}
	}

	if path, err := exec.LookPath("claude"); err == nil {
		return path, nil
	}

	locations := fallbackLocations()
	for _, loc := range locations {
		if isExecutableFile(loc) {
			return loc, nil
		}
	}
	return "", &CLINotFoundError{Searched: locations}
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// parseCLIVersion extracts a canonical semver ("v2.0.14") from `claude -v` output.
func parseCLIVersion(output string) (string, bool) {
	m := versionPattern.FindString(output)
	if m == "" {
		return "", false
	}
	v := "v" + m
	return v, semver.IsValid(v)
}

// versionBelowMinimum reports whether version is older than MinimumClaudeCodeVersion.
func versionBelowMinimum(version string) bool {
	return semver.Compare(version, "v"+MinimumClaudeCodeVersion) < 0
}

// checkCLIVersion runs `<cli> -v` and logs a warning for outdated CLIs.
// Probe failures are ignored: the real spawn reports them.
func checkCLIVersion(ctx context.Context, cliPath string) {
	if os.Getenv(SkipVersionCheckEnv) != "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, cliPath, "-v").Output()
	if err != nil {
		log.Debug().Err(err).Str("cli", cliPath).Msg("transport: CLI version probe failed")
		return
	}

	version, ok := parseCLIVersion(string(out))
	if !ok {
		return
	}
	if versionBelowMinimum(version) {
		log.Warn().
			Str("version", strings.TrimPrefix(version, "v")).
			Str("minimum", MinimumClaudeCodeVersion).
			Str("cli", cliPath).
			Msg("Claude Code CLI is older than the minimum supported version; some features may not work")
	}
}
