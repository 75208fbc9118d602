package session

import "testing"

func TestResolvePath(t *testing.T) {
	cases := []struct {
		name string
		p    string
		cwd  string
		want string
	}{
		{"relative", "src/app.py", "/workspace", "/workspace/src/app.py"},
		{"relative nested cwd", "app.py", "/workspace/src", "/workspace/src/app.py"},
		{"absolute used as-is", "/workspace/other/file", "/workspace/src", "/workspace/other/file"},
		{"dot", ".", "/workspace/src", "/workspace/src"},
		{"parent", "..", "/workspace/src", "/workspace"},
		{"parent component", "../lib/util.py", "/workspace/src", "/workspace/lib/util.py"},
		{"doubled separators collapsed", "a//b", "/workspace/", "/workspace/a/b"},
		{"trailing slash stripped", "dir/", "/workspace", "/workspace/dir"},
		{"root stays root", "/", "/workspace", "/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolvePath(tc.p, tc.cwd)
			if got != tc.want {
				t.Fatalf("ResolvePath(%q, %q) = %q, want %q", tc.p, tc.cwd, got, tc.want)
			}
			// Resolving an already-resolved path is a no-op.
			if again := ResolvePath(got, tc.cwd); again != got {
				t.Fatalf("ResolvePath(%q, %q) = %q, want idempotent", got, tc.cwd, again)
			}
		})
	}
}
