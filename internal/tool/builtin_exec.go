package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/FeepingCreature/forge/internal/ferr"
	"github.com/FeepingCreature/forge/internal/vfs"
)

// maxCapturedOutput bounds how much of a discovered command's combined
// stdout/stderr is returned to the model. Always truncated: an agent that
// needs the full log can re-run narrower.
const maxCapturedOutput = 16 * 1024

// execTimeout caps check/run_tests at five minutes. It is layered on the
// caller's context, so an earlier deadline already set there wins: under
// the turn executor, which gives every tool call Config.ToolTimeout, these
// tools get no more time than any other tool.
const execTimeout = 5 * time.Minute

// discoverCommand picks a fixed, discovery-based command to run inside dir:
// a Makefile target first, then a language-ecosystem default. Tools never
// invoke arbitrary shell; this is the one
// place a built-in tool launches an external process, and the command is always chosen
// from this fixed list, never from model input.
func discoverCommand(dir, target string) (name string, args []string, ok bool) {
	if _, err := os.Stat(filepath.Join(dir, "Makefile")); err == nil {
		return "make", []string{target}, true
	}
	switch {
	case fileExists(dir, "go.mod"):
		if target == "test" {
			return "go", []string{"test", "./..."}, true
		}
		return "go", []string{"vet", "./..."}, true
	case fileExists(dir, "package.json"):
		return "npm", []string{"run", target}, true
	case fileExists(dir, "Cargo.toml"):
		if target == "test" {
			return "cargo", []string{"test"}, true
		}
		return "cargo", []string{"check"}, true
	case fileExists(dir, "pyproject.toml"), fileExists(dir, "setup.py"):
		if target == "test" {
			return "pytest", nil, true
		}
		return "python3", []string{"-m", "py_compile"}, true
	}
	return "", nil, false
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// runDiscovered materialises the tool context's VFS to a tempdir, runs the
// discovered command for target, and returns its captured, possibly
// truncated output.
func runDiscovered(tc *Context, target string) (string, error) {
	if tc == nil || tc.Materialize == nil {
		return "", ferr.New(ferr.ToolFailed, "no materializable working tree in this context")
	}
	dir, cleanup, err := tc.Materialize()
	if err != nil {
		return "", ferr.Wrap(ferr.ToolFailed, "materialize", err)
	}
	defer cleanup()

	name, args, ok := discoverCommand(dir, target)
	if !ok {
		return "", ferr.New(ferr.ToolFailed, "no known build/test tooling detected")
	}

	cctx, cancel := context.WithTimeout(tc, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	output := out.String()
	truncated := false
	if len(output) > maxCapturedOutput {
		output = output[len(output)-maxCapturedOutput:]
		truncated = true
	}
	if cctx.Err() == context.DeadlineExceeded {
		return output, ferr.New(ferr.ToolTimeout, name+" "+target)
	}
	if truncated {
		output = "... (truncated)\n" + output
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return output, ferr.Wrap(ferr.ToolFailed, name, runErr)
		}
	}
	return output, nil
}

// --- check ---

type checkArgs struct{}

type checkTool struct{}

func newCheck() Tool { return checkTool{} }

func (checkTool) Name() string        { return "check" }
func (checkTool) Description() string { return "Run the project's static check/lint/build command against the pending overlay." }
func (checkTool) ArgsExample() any     { return &checkArgs{} }
func (checkTool) Builtin() bool        { return true }

func (checkTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	output, err := runDiscovered(tc, "check")
	if err != nil && !ferr.Is(err, ferr.ToolTimeout) {
		return nil, err
	}
	return &Result{Content: output}, err
}

// --- run_tests ---

type runTestsArgs struct{}

type runTestsTool struct{}

func newRunTests() Tool { return runTestsTool{} }

func (runTestsTool) Name() string        { return "run_tests" }
func (runTestsTool) Description() string { return "Run the project's test suite against the pending overlay." }
func (runTestsTool) ArgsExample() any     { return &runTestsArgs{} }
func (runTestsTool) Builtin() bool        { return true }

func (runTestsTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	output, err := runDiscovered(tc, "test")
	if err != nil && !ferr.Is(err, ferr.ToolTimeout) {
		return nil, err
	}
	return &Result{Content: output}, err
}

// --- scout ---

type scoutArgs struct {
	Path string `json:"path,omitempty" jsonschema_description:"optional subdirectory to limit the listing to; repository root if omitted"`
}

type scoutTool struct{}

func newScout() Tool { return scoutTool{} }

func (scoutTool) Name() string        { return "scout" }
func (scoutTool) Description() string { return "List the repository tree (optionally under a path) without adding files to context." }
func (scoutTool) ArgsExample() any     { return &scoutArgs{} }
func (scoutTool) Builtin() bool        { return true }

func (scoutTool) Execute(fs vfs.VFS, raw json.RawMessage, tc *Context) (*Result, error) {
	var a scoutArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, ferr.Wrap(ferr.BadArguments, "scout", err)
	}
	paths, err := fs.List()
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	for _, p := range paths {
		if a.Path != "" && !pathUnder(p, a.Path) {
			continue
		}
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return &Result{
		Content:    b.String(),
		Directives: []Directive{EphemeralResult{Payload: b.String()}},
	}, nil
}

func pathUnder(p, prefix string) bool {
	prefix = filepath.ToSlash(filepath.Clean(prefix))
	return p == prefix || (len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/')
}
