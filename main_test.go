package costcollector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/inconshreveable/log15"
	"go.uber.org/goleak"
)

// When FAKE_TOOL is set the test binary stands in for the cloud CLI.
func TestMain(m *testing.M) {
	if os.Getenv("FAKE_TOOL") == "1" {
		os.Exit(fakeTool(os.Args[1:]))
	}
	goleak.VerifyTestMain(m)
}

// fakeTool prints FAKE_STDOUT and FAKE_STDERR and exits with FAKE_EXIT.
// With FAKE_ECHO=1 it prints its arguments and FAKE_MARKER as JSON.
func fakeTool(args []string) int {
	if os.Getenv("FAKE_ECHO") == "1" {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"args":   args,
			"marker": os.Getenv("FAKE_MARKER"),
		})
		return 0
	}
	fmt.Fprint(os.Stdout, os.Getenv("FAKE_STDOUT"))
	fmt.Fprint(os.Stderr, os.Getenv("FAKE_STDERR"))
	code, _ := strconv.Atoi(os.Getenv("FAKE_EXIT"))
	return code
}

func fakeToolInvoker(t *testing.T, env map[string]string) *Invoker {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	merged := map[string]string{"FAKE_TOOL": "1"}
	for k, v := range env {
		merged[k] = v
	}
	logger := quietLogger()
	inv, err := NewInvoker(&InvokerInput{Binary: &exe, Env: merged, Logger: &logger})
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	return inv
}

func quietLogger() log15.Logger {
	l := log15.New()
	l.SetHandler(log15.DiscardHandler())
	return l
}

// route answers every command containing all of match, in order of
// declaration. Responses are consumed one per call; the last one repeats.
type route struct {
	match     []string
	responses []response
	calls     int
}

type response struct {
	doc Document
	err error
}

// scriptedQuerier is a Querier that replays canned documents and
// records every command it was handed.
type scriptedQuerier struct {
	routes []*route
	calls  []Command
}

func (q *scriptedQuerier) on(match string, responses ...response) *scriptedQuerier {
	q.routes = append(q.routes, &route{match: strings.Fields(match), responses: responses})
	return q
}

func (q *scriptedQuerier) Invoke(cmd Command) (Document, error) {
	q.calls = append(q.calls, cmd)
	for _, r := range q.routes {
		if !containsAll(cmd, r.match) {
			continue
		}
		idx := r.calls
		if idx >= len(r.responses) {
			idx = len(r.responses) - 1
		}
		r.calls++
		resp := r.responses[idx]
		return resp.doc, resp.err
	}
	return nil, &ExecutionError{Command: cmd, ExitStatus: 255, Stderr: "no route for " + cmd.String()}
}

func (q *scriptedQuerier) callsMatching(match string) (n int) {
	fields := strings.Fields(match)
	for _, c := range q.calls {
		if containsAll(c, fields) {
			n++
		}
	}
	return n
}

func containsAll(cmd Command, words []string) bool {
	for _, w := range words {
		if !containsString(cmd, w) {
			return false
		}
	}
	return true
}

func ok(doc Document) response { return response{doc: doc} }

func fail(err error) response { return response{err: err} }

// mustDoc parses a JSON object literal.
func mustDoc(t *testing.T, s string) Document {
	t.Helper()
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		t.Fatalf("bad test JSON: %v", err)
	}
	return d
}
