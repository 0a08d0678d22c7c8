package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/workflow"
)

// renderDiff produces a unified diff between the current and proposed
// content of one artifact kind.
func renderDiff(kind artifact.Kind, current, proposed string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(proposed),
		FromFile: fmt.Sprintf("%s (current)", kind.FileName()),
		ToFile:   fmt.Sprintf("%s (proposed)", kind.FileName()),
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// promptDecider shows each proposed change as a unified diff and asks for
// confirmation on the given reader. Anything other than y/yes rejects.
//
// The caller passes its own buffered reader so a surrounding input loop and
// the decider never buffer ahead of each other on the same stream.
func promptDecider(in *bufio.Reader, out io.Writer) workflow.Decider {
	return workflow.DeciderFunc(func(kind artifact.Kind, current, proposed string) (bool, error) {
		diff, err := renderDiff(kind, current, proposed)
		if err != nil {
			return false, fmt.Errorf("render diff for %s: %w", kind, err)
		}
		if diff == "" {
			fmt.Fprintf(out, "\n%s: proposed content is identical, skipping\n", kind)
			return false, nil
		}

		fmt.Fprintf(out, "\n--- proposed change to %s ---\n%s", kind, diff)
		fmt.Fprintf(out, "Accept this change? [y/N] ")

		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			// EOF on stdin means nobody can confirm; reject.
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})
}

// acceptAllDecider accepts every proposed change, printing the diff for
// the record. Used with --yes.
func acceptAllDecider(out io.Writer) workflow.Decider {
	return workflow.DeciderFunc(func(kind artifact.Kind, current, proposed string) (bool, error) {
		diff, err := renderDiff(kind, current, proposed)
		if err != nil {
			return false, fmt.Errorf("render diff for %s: %w", kind, err)
		}
		fmt.Fprintf(out, "\n--- accepting change to %s ---\n%s", kind, diff)
		return true, nil
	})
}
