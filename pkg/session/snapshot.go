package session

import (
	"fmt"
	"strings"

	"github.com/appforge/appforge/pkg/sandbox"
)

// Snapshot produces the compact environment summary included in the next
// prompt: the direct entries under cwd tagged dir/file, plus the most recent
// command output. It is recomputed every turn and never cached; deeper
// inspection is up to the model to request with an explicit command.
func Snapshot(box sandbox.Sandbox, cwd, lastOutput string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Working directory: %s\n", cwd)

	entries, err := box.ReadDir(cwd)
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "Directory listing unavailable: %v\n", err)
	case len(entries) == 0:
		sb.WriteString("The directory is empty.\n")
	default:
		sb.WriteString("Entries:\n")
		for _, e := range entries {
			tag := "file"
			if e.IsDir {
				tag = "dir"
			}
			fmt.Fprintf(&sb, "  [%s] %s\n", tag, e.Name)
		}
	}

	sb.WriteString("\nLast command output:\n")
	if lastOutput == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(lastOutput)
		if !strings.HasSuffix(lastOutput, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
