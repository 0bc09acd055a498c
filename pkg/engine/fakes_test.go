package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

type fakeFile struct {
	data []byte
	mode os.FileMode
}

// fakeFS is an in-memory FileSystem that records writes.
type fakeFS struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	writes  []string
	failOn  map[string]error
	execSet []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		files:  make(map[string]*fakeFile),
		failOn: make(map[string]error),
	}
}

func (f *fakeFS) add(path, content string, mode os.FileMode) *fakeFS {
	f.files[path] = &fakeFile{data: []byte(content), mode: mode}
	return f
}

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return append([]byte(nil), file.data...), nil
}

func (f *fakeFS) WriteFile(path string, data []byte, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[path]; err != nil {
		return err
	}
	f.files[path] = &fakeFile{data: append([]byte(nil), data...), mode: mode}
	f.writes = append(f.writes, path)
	return nil
}

func (f *fakeFS) SetExecutable(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return &os.PathError{Op: "chmod", Path: path, Err: os.ErrNotExist}
	}
	file.mode |= 0o500
	f.execSet = append(f.execSet, path)
	return nil
}

func (f *fakeFS) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func (f *fakeFS) Stat(path string) (os.FileMode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return 0, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	return file.mode, nil
}

func (f *fakeFS) content(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[path]; ok {
		return string(file.data)
	}
	return ""
}

func (f *fakeFS) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// recordingRunner is a ProcessRunner that records every invocation in order.
type recordingRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]ProcessResult
	errs    map[string]error
	// onRun is called with the invocation before the result is returned
	onRun func(call string)
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		results: make(map[string]ProcessResult),
		errs:    make(map[string]error),
	}
}

func (r *recordingRunner) RunShell(_ context.Context, command, dir string) (ProcessResult, error) {
	return r.record("shell:" + command)
}

func (r *recordingRunner) RunScript(_ context.Context, path, dir string) (ProcessResult, error) {
	return r.record("script:" + path)
}

func (r *recordingRunner) record(call string) (ProcessResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	res, err := r.results[call], r.errs[call]
	onRun := r.onRun
	r.mu.Unlock()

	if onRun != nil {
		onRun(call)
	}
	return res, err
}

// fakePackages records install calls.
type fakePackages struct {
	calls [][]string
	err   error
}

func (p *fakePackages) Install(_ context.Context, packages []string) error {
	p.calls = append(p.calls, append([]string(nil), packages...))
	return p.err
}

// fakeServices records unit operations as "enable:unit" and "reload:unit".
type fakeServices struct {
	calls  []string
	failOn string
}

func (s *fakeServices) Enable(_ context.Context, unit string) error {
	return s.do("enable:" + unit)
}

func (s *fakeServices) Reload(_ context.Context, unit string) error {
	return s.do("reload:" + unit)
}

func (s *fakeServices) do(call string) error {
	s.calls = append(s.calls, call)
	if call == s.failOn {
		return fmt.Errorf("%s: unit not found", call)
	}
	return nil
}

// fakeRecorder captures recorder calls.
type fakeRecorder struct {
	started  []string
	finished []ActionResult
	outcome  *Outcome
	err      error
}

func (r *fakeRecorder) RunStarted(_ context.Context, runID string, _ *Plan) error {
	r.started = append(r.started, runID)
	return r.err
}

func (r *fakeRecorder) ActionFinished(_ context.Context, _ string, _ Action, result ActionResult) error {
	r.finished = append(r.finished, result)
	return r.err
}

func (r *fakeRecorder) RunFinished(_ context.Context, outcome *Outcome) error {
	r.outcome = outcome
	return r.err
}
