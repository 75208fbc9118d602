package docker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

const testImage = "appforge-sandbox:latest"

// newIntegrationSandbox boots a real container, skipping if Docker or the
// sandbox image is unavailable.
func newIntegrationSandbox(t *testing.T) *Sandbox {
	t.Helper()

	f, err := NewFactory(testImage, "3000", t.TempDir())
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	if _, err := f.cli.Ping(context.Background()); err != nil {
		t.Skipf("Docker daemon not responsive: %v", err)
	}

	s, err := f.New("integration-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	if err := s.Boot(ctx); err != nil {
		t.Skipf("sandbox boot failed (image missing?): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSpawnCapturesOutput(t *testing.T) {
	s := newIntegrationSandbox(t)
	ctx := context.Background()

	proc, err := s.Spawn(ctx, "echo", []string{"hello"}, WorkspacePath)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	out, _ := io.ReadAll(proc.Output())
	code, err := proc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(string(out), "hello") {
		t.Errorf("output = %q, want it to contain 'hello'", out)
	}
}

func TestSpawnNonZeroExit(t *testing.T) {
	s := newIntegrationSandbox(t)
	ctx := context.Background()

	proc, err := s.Spawn(ctx, "sh", []string{"-c", "exit 3"}, WorkspacePath)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	io.Copy(io.Discard, proc.Output())
	code, err := proc.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestSpawnSeesWrittenFiles(t *testing.T) {
	s := newIntegrationSandbox(t)
	ctx := context.Background()

	if err := s.WriteFile("/workspace/hello.txt", []byte("from host")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	proc, err := s.Spawn(ctx, "cat", []string{"hello.txt"}, WorkspacePath)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	out, _ := io.ReadAll(proc.Output())
	if _, err := proc.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.Contains(string(out), "from host") {
		t.Errorf("output = %q, want bind-mounted content", out)
	}
}
