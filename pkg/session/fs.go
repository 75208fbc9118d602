package session

import (
	"path"
	"strings"
)

// ResolvePath resolves p against cwd. Absolute paths are used as-is; relative
// paths are joined to cwd with exactly one separator. The result is
// normalized: doubled separators collapsed, no trailing slash except root.
// Resolution is idempotent: resolving an already-resolved path is a no-op.
func ResolvePath(p, cwd string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(cwd + "/" + p)
}
