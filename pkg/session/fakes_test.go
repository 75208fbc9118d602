package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/model"
	"github.com/appforge/appforge/pkg/sandbox"
)

// fakeProcess replays scripted output chunks and records stdin writes. When
// gate is set, the output stream holds EOF back until stdin is written,
// modeling a process that waits for input before exiting.
type fakeProcess struct {
	mu       sync.Mutex
	chunks   [][]byte
	stdin    bytes.Buffer
	exitCode int
	gate     chan struct{}
	gateOnce sync.Once
}

func (p *fakeProcess) Input() io.Writer { return &procStdin{p: p} }

type procStdin struct{ p *fakeProcess }

func (w *procStdin) Write(data []byte) (int, error) {
	w.p.mu.Lock()
	n, err := w.p.stdin.Write(data)
	w.p.mu.Unlock()
	if w.p.gate != nil {
		w.p.gateOnce.Do(func() { close(w.p.gate) })
	}
	return n, err
}

func (p *fakeProcess) Output() io.Reader { return &procOutput{p: p} }

// procOutput returns one scripted chunk per Read call so chunk boundaries
// survive into the bridge.
type procOutput struct{ p *fakeProcess }

func (r *procOutput) Read(buf []byte) (int, error) {
	r.p.mu.Lock()
	if len(r.p.chunks) == 0 {
		gate := r.p.gate
		r.p.mu.Unlock()
		if gate != nil {
			<-gate
		}
		return 0, io.EOF
	}
	chunk := r.p.chunks[0]
	r.p.chunks = r.p.chunks[1:]
	n := copy(buf, chunk)
	r.p.mu.Unlock()
	return n, nil
}

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	return p.exitCode, nil
}

func (p *fakeProcess) stdinString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.String()
}

// fakeSandbox keeps the workspace file system in memory and replays scripted
// processes in spawn order. The events slice records the order of lifecycle
// calls so tests can assert on subscribe-before-spawn style contracts.
type fakeSandbox struct {
	mu        sync.Mutex
	files     map[string][]byte
	procs     []*fakeProcess
	spawned   []string
	bootErr   error
	readyCh   chan sandbox.ServerReady
	events    *[]string
	closed    bool
	workspace string
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		files:     map[string][]byte{},
		readyCh:   make(chan sandbox.ServerReady, 8),
		workspace: "/workspace",
	}
}

var _ sandbox.Sandbox = (*fakeSandbox)(nil)

func (f *fakeSandbox) Boot(ctx context.Context) error { return f.bootErr }

func (f *fakeSandbox) Spawn(ctx context.Context, executable string, args []string, cwd string) (sandbox.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, strings.Join(append([]string{executable}, args...), " "))
	if f.events != nil {
		*f.events = append(*f.events, "spawn")
	}
	if len(f.procs) == 0 {
		return nil, fmt.Errorf("no scripted process for %q", executable)
	}
	proc := f.procs[0]
	f.procs = f.procs[1:]
	return proc, nil
}

func (f *fakeSandbox) WriteFile(p string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = append([]byte(nil), content...)
	return nil
}

func (f *fakeSandbox) ReadFile(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[p]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", p)
	}
	return append([]byte(nil), content...), nil
}

func (f *fakeSandbox) ReadDir(dir string) ([]sandbox.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var entries []sandbox.Entry
	for p := range f.files {
		if path.Dir(p) == dir {
			if !seen[path.Base(p)] {
				seen[path.Base(p)] = true
				entries = append(entries, sandbox.Entry{Name: path.Base(p)})
			}
			continue
		}
		if strings.HasPrefix(p, dir+"/") {
			rest := strings.TrimPrefix(p, dir+"/")
			child := strings.SplitN(rest, "/", 2)
			if len(child) == 2 && !seen[child[0]] {
				seen[child[0]] = true
				entries = append(entries, sandbox.Entry{Name: child[0], IsDir: true})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *fakeSandbox) ServerReady() <-chan sandbox.ServerReady { return f.readyCh }
func (f *fakeSandbox) WorkspaceDir() string                    { return f.workspace }
func (f *fakeSandbox) HostWorkspaceDir() string                { return "/tmp/fake-workspace" }

func (f *fakeSandbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSandbox) fileContent(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[p]
	return string(content), ok
}

// fakeProvider replays canned replies in order. A non-nil generate hook
// overrides the canned replies entirely.
type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	generate func(ctx context.Context, req model.Request) (string, error)
	requests []model.Request
}

var _ model.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "fake-1", Name: "fake-1", Provider: "fake"}}, nil
}

func (f *fakeProvider) Generate(ctx context.Context, modelName string, req model.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hook := f.generate
	var reply string
	var err error
	if hook == nil {
		if f.err != nil {
			err = f.err
		} else if len(f.replies) == 0 {
			err = fmt.Errorf("no scripted reply")
		} else {
			reply = f.replies[0]
			f.replies = f.replies[1:]
		}
	}
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, req)
	}
	return reply, err
}

func (f *fakeProvider) lastRequest() model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// recordingDisplay captures every callback for later assertions. trace holds
// the interleaved callback order across statuses and messages.
type recordingDisplay struct {
	mu         sync.Mutex
	trace      []string
	statuses   []domain.Status
	messages   []domain.Message
	termWrites []string
	workDirs   []string
	previews   []string
	viewedPath string
	viewedBody string
}

var _ Display = (*recordingDisplay)(nil)

func (d *recordingDisplay) StatusChanged(status domain.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	d.trace = append(d.trace, "status:"+string(status))
}

func (d *recordingDisplay) MessageAppended(msg domain.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	d.trace = append(d.trace, "message:"+string(msg.Sender))
}

func (d *recordingDisplay) TermWrite(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.termWrites = append(d.termWrites, string(data))
}

func (d *recordingDisplay) WorkingDirChanged(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workDirs = append(d.workDirs, path)
}

func (d *recordingDisplay) PreviewChanged(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previews = append(d.previews, url)
}

func (d *recordingDisplay) FileViewed(path, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewedPath = path
	d.viewedBody = content
}

func (d *recordingDisplay) callbackTrace() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.trace...)
}

func (d *recordingDisplay) previewURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.previews...)
}

func (d *recordingDisplay) termOutput() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.termWrites...)
}

// fakeTerminal counts live subscriptions and records subscribe order into the
// shared events slice when set.
type fakeTerminal struct {
	mu     sync.Mutex
	active int
	keys   chan []byte
	events *[]string
}

var _ Terminal = (*fakeTerminal)(nil)

func (t *fakeTerminal) Subscribe() (<-chan []byte, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	if t.events != nil {
		*t.events = append(*t.events, "subscribe")
	}
	ch := make(chan []byte, 16)
	t.keys = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.active--
			close(ch)
		})
	}
	return ch, cancel
}

func (t *fakeTerminal) activeSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
