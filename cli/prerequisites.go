// Package cli provides the non-interactive q CLI surface: prerequisite
// checks, identity queries, and login/logout shell-outs. These are the
// collaborator-facing helpers around the interactive session core.
package cli

import (
	"context"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/marutaku/qchat-core/exec"
)

// probeTimeout bounds the non-interactive q invocations (version, whoami).
const probeTimeout = 5 * time.Second

// Prerequisite represents a required CLI tool.
type Prerequisite struct {
	Name        string // Command name (e.g., "q")
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// DefaultPrerequisites returns the CLI tools the session core depends on.
func DefaultPrerequisites() []Prerequisite {
	return []Prerequisite{
		{
			Name:        "q",
			Required:    true,
			Description: "Amazon Q Developer CLI",
			InstallURL:  "https://aws.amazon.com/q/developer/",
		},
	}
}

// CheckResult contains the result of checking a prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a CLI tool is available in PATH.
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := osexec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = Version(exec.NewRealExecutor(), prereq.Name)
	return result
}

// ValidateRequired checks that all required prerequisites are met. Returns
// nil if all required tools are found, otherwise an error describing what is
// missing.
func ValidateRequired(prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if result := Check(prereq); !result.Found {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Name, prereq.Description, prereq.InstallURL))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}
	return nil
}

// Version returns the first line of `<binary> --version`, or "" on failure.
func Version(executor exec.CommandExecutor, binary string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := executor.Output(ctx, "", binary, "--version")
	if err != nil {
		return ""
	}
	return firstLine(string(out))
}

// Whoami returns the identity summary from `<binary> whoami`, or "" when the
// caller is not logged in or the command fails.
func Whoami(executor exec.CommandExecutor, binary string) string {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := executor.Output(ctx, "", binary, "whoami")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Login runs `<binary> login` non-interactively and returns its combined
// output. The session core never authenticates; callers run this between
// sessions.
func Login(ctx context.Context, executor exec.CommandExecutor, binary string) (string, error) {
	out, err := executor.CombinedOutput(ctx, "", binary, "login")
	if err != nil {
		return string(out), fmt.Errorf("q login failed: %w", err)
	}
	return string(out), nil
}

// Logout runs `<binary> logout` and returns its combined output.
func Logout(ctx context.Context, executor exec.CommandExecutor, binary string) (string, error) {
	out, err := executor.CombinedOutput(ctx, "", binary, "logout")
	if err != nil {
		return string(out), fmt.Errorf("q logout failed: %w", err)
	}
	return string(out), nil
}

// firstLine returns the trimmed first line of s.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
