// Package sandbox defines the capability surface of the ephemeral execution
// environment: process spawning, a virtual file system rooted at a workspace,
// and a server-readiness event stream.
package sandbox

import (
	"context"
	"io"
)

// Entry is one direct child of a workspace directory.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// ServerReady is pushed when a server inside the sandbox becomes reachable.
type ServerReady struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// Process is a single spawned command. It owns a stdin writer and a combined
// stdout/stderr reader for its lifetime; once Wait returns, both are closed
// and the process object is discarded.
type Process interface {
	// Input is the process's standard input writer.
	Input() io.Writer

	// Output yields combined stdout/stderr in emission order. Reads return
	// io.EOF once the process has exited and the stream is drained.
	Output() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	Wait(ctx context.Context) (int, error)
}

// Sandbox is one isolated execution environment. Paths passed to the file
// system methods are container-absolute (under the workspace root).
type Sandbox interface {
	// Boot initializes the environment. A Boot failure is fatal to the
	// owning session.
	Boot(ctx context.Context) error

	// Spawn starts a process bound to cwd inside the sandbox.
	Spawn(ctx context.Context, executable string, args []string, cwd string) (Process, error)

	// WriteFile writes content to path, creating parent directories.
	WriteFile(path string, content []byte) error

	// ReadFile returns the content of path.
	ReadFile(path string) ([]byte, error)

	// ReadDir lists the direct entries under path.
	ReadDir(path string) ([]Entry, error)

	// ServerReady returns the channel on which reachable-server events are
	// pushed. A later event supersedes an earlier one.
	ServerReady() <-chan ServerReady

	// WorkspaceDir is the workspace root path as seen inside the sandbox.
	WorkspaceDir() string

	// HostWorkspaceDir is the host path backing the workspace, for callers
	// (like the file watcher) that observe the workspace from outside.
	HostWorkspaceDir() string

	// Close tears the environment down and releases its resources.
	Close() error
}
