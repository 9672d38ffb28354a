package costcollector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/inconshreveable/log15"
)

// Command is a single invocation of the external tool as an argument
// vector. The first element is the executable. Commands are treated as
// immutable: every helper returns a new Command.
type Command []string

// With returns a copy of the command with args appended.
func (c Command) With(args ...string) Command {
	out := make(Command, 0, len(c)+len(args))
	out = append(out, c...)
	return append(out, args...)
}

// WithRegion returns a copy of the command with a --region flag appended.
// An empty region returns an unmodified copy so the tool falls back to
// its own profile configuration.
func (c Command) WithRegion(region string) Command {
	if region == "" {
		return c.With()
	}
	return c.With("--region", region)
}

// String renders the command the way an operator would type it into a
// shell. Used in logs and error messages.
func (c Command) String() string {
	quoted := make([]string, 0, len(c))
	for _, arg := range c {
		quoted = append(quoted, shellQuote(arg))
	}
	return strings.Join(quoted, " ")
}

// CommandResult is the raw outcome of one process run.
type CommandResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Document is a parsed JSON object returned by the external tool.
type Document map[string]interface{}

// ExecutionError is returned when the external process exits non-zero or
// could not be started at all. In the latter case ExitStatus is -1 and Err
// holds the start failure.
type ExecutionError struct {
	Command    Command
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command failed to start: %s: %v", e.Command, e.Err)
	}
	msg := fmt.Sprintf("command failed with exit status %d: %s", e.ExitStatus, e.Command)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// MalformedOutputError is returned when the process exited zero but its
// standard output was not a JSON object.
type MalformedOutputError struct {
	Command Command
	Output  string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("invalid JSON from: %s: %v", e.Command, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

var errNotObject = errors.New("output is not a JSON object")

// InvokerInput provides configuration inputs for a new Invoker.
type InvokerInput struct {
	// Executable name or path of the external cloud tool.
	// Default: "aws"
	Binary *string

	// Region appended by Base. Resolve it once (see Config) and pass
	// it in here rather than letting each command guess.
	// Default: "" (no --region flag)
	Region *string

	// Env holds variables merged over the inherited process
	// environment for every invocation. Overrides win.
	Env map[string]string

	// Invoker uses log15 (https://github.com/inconshreveable/log15).
	// If no Logger is provided a default stderr handler is set up.
	Logger *log15.Logger
}

// CommandBuilder builds Commands for one tool binary and region.
type CommandBuilder struct {
	Binary string
	Region string
}

// Base returns "<binary> --output json <args>" with the region appended.
func (b CommandBuilder) Base(args ...string) Command {
	return b.Global(args...).WithRegion(b.Region)
}

// Global is like Base but never appends a region. Some services (s3api
// bucket listing, sts) are global and do not need one.
func (b CommandBuilder) Global(args ...string) Command {
	return Command{b.Binary, "--output", "json"}.With(args...)
}

// Invoker runs the external tool and enforces its JSON-or-error
// contract. It holds no mutable state, so one Invoker can serve any
// number of collectors.
type Invoker struct {
	CommandBuilder
	env []string
	log log15.Logger
}

// NewInvoker returns an Invoker configured from input, filling defaults
// for anything left unset.
func NewInvoker(input *InvokerInput) (inv *Invoker, err error) {
	if input == nil {
		input = &InvokerInput{}
	}
	var i Invoker

	DefaultBinary := "aws"
	if input.Binary == nil || *input.Binary == "" {
		input.Binary = &DefaultBinary
	}
	i.Binary = *input.Binary

	if input.Region != nil {
		i.Region = *input.Region
	}

	i.env = mergeEnv(os.Environ(), input.Env)

	if input.Logger == nil {
		i.log = defaultLogger(log15.LvlInfo)
	} else {
		i.log = *input.Logger
	}
	return &i, err
}

// Run spawns exactly one process for cmd and waits for it. A non-zero
// exit is reported through the result, not the error; the error is only
// set when the process could not be started.
func (inv *Invoker) Run(cmd Command) (res CommandResult, err error) {
	if len(cmd) == 0 {
		return res, errors.New("empty command")
	}
	inv.log.Debug("invoking external tool", "cmd", cmd.String())
	c := exec.Command(cmd[0], cmd[1:]...)
	c.Env = inv.env
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	runErr := c.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if runErr != nil {
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			res.ExitStatus = ee.ExitCode()
			return res, nil
		}
		res.ExitStatus = -1
		return res, runErr
	}
	return res, nil
}

// Invoke runs cmd and parses its standard output as a JSON object. Empty
// output parses as an empty Document. It fails with *ExecutionError on a
// non-zero exit and *MalformedOutputError on unparsable output.
func (inv *Invoker) Invoke(cmd Command) (doc Document, err error) {
	res, err := inv.Run(cmd)
	if err != nil {
		return doc, &ExecutionError{Command: cmd, ExitStatus: -1, Err: err}
	}
	if res.ExitStatus != 0 {
		inv.log.Debug("external tool exited non-zero", "cmd", cmd.String(), "status", res.ExitStatus)
		return doc, &ExecutionError{Command: cmd, ExitStatus: res.ExitStatus, Stderr: res.Stderr}
	}
	return parseDocument(cmd, res.Stdout)
}

func parseDocument(cmd Command, out string) (Document, error) {
	if strings.TrimSpace(out) == "" {
		return Document{}, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return nil, &MalformedOutputError{Command: cmd, Output: out, Err: err}
	}
	switch val := v.(type) {
	case nil:
		return Document{}, nil
	case map[string]interface{}:
		return Document(val), nil
	default:
		return nil, &MalformedOutputError{Command: cmd, Output: out, Err: errNotObject}
	}
}

// mergeEnv overlays overrides on base ("KEY=value" pairs). Overridden
// keys are dropped from base and the overrides appended in key order.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	var merged []string
	for _, kv := range base {
		key := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if _, ok := overrides[key]; !ok {
			merged = append(merged, kv)
		}
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+overrides[k])
	}
	return merged
}
