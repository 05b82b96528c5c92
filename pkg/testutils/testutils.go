package testutils

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

func MustAbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}
	return abs
}

// FakeResponse is the scripted result of one command.
type FakeResponse struct {
	Stdout string
	Stderr string
	Err    error
}

// FakeRunner records executed commands. Handler takes precedence over
// Responses; commands matching neither succeed with empty output.
type FakeRunner struct {
	lock      sync.Mutex
	calls     []string
	Handler   func(command string) FakeResponse
	Responses map[string]FakeResponse
}

func (f *FakeRunner) Execute(_ context.Context, command string) (string, string, error) {
	f.lock.Lock()
	f.calls = append(f.calls, command)
	handler := f.Handler
	resp, ok := f.Responses[command]
	f.lock.Unlock()

	if handler != nil {
		r := handler(command)
		return r.Stdout, r.Stderr, r.Err
	}
	if ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}
	return "", "", nil
}

// Calls returns all executed commands in order.
func (f *FakeRunner) Calls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns the executed commands starting with prefix.
func (f *FakeRunner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
