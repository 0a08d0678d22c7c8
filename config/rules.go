package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rules holds workspace authoring rules injected into prompts. The checksum
// lets callers resend rules only when the files change.
type Rules struct {
	// Content is the concatenated rules text, one section per file.
	Content string

	// Checksum is a hex SHA-256 of Content.
	Checksum string

	// Files lists the matched file paths, relative to the workspace dir.
	Files []string
}

// Empty reports whether no rules files matched.
func (r *Rules) Empty() bool {
	return r == nil || r.Content == ""
}

// LoadRules collects rules files matching the globs under dir. Files are
// concatenated in sorted path order so the checksum is stable.
func LoadRules(dir string, globs []string) (*Rules, error) {
	if len(globs) == 0 {
		return &Rules{}, nil
	}

	fsys := os.DirFS(dir)

	matched := make(map[string]struct{})
	for _, pattern := range globs {
		paths, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("rules glob %q: %w", pattern, err)
		}
		for _, p := range paths {
			info, err := fs.Stat(fsys, p)
			if err != nil || info.IsDir() {
				continue
			}
			matched[p] = struct{}{}
		}
	}

	files := make([]string, 0, len(matched))
	for p := range matched {
		files = append(files, p)
	}
	sort.Strings(files)

	var b strings.Builder
	for _, p := range files {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read rules file %s: %w", p, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", p, strings.TrimSpace(string(data)))
	}

	content := b.String()
	rules := &Rules{
		Content: content,
		Files:   files,
	}
	if content != "" {
		sum := sha256.Sum256([]byte(content))
		rules.Checksum = hex.EncodeToString(sum[:])
	}
	return rules, nil
}
