package handlers

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// absolutePathPattern matches a whitespace-delimited absolute filesystem
// path. It is deliberately loose; over-matches are filtered out by
// extractFilePaths's existence/containment check.
var absolutePathPattern = regexp.MustCompile(`(?:^|\s)(/[^\s` + "`" + `'"]+)`)

// extractFilePaths pulls absolute paths out of response text, keeps only the
// ones that exist on disk and resolve under projectPath, strips them
// from the display text, and returns the cleaned text alongside the
// surviving paths in first-seen order.
func extractFilePaths(fs afero.Fs, text, projectPath string) (cleaned string, paths []string) {
	if text == "" {
		return text, nil
	}

	matches := absolutePathPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var b strings.Builder
	last := 0
	seen := make(map[string]bool)

	for _, m := range matches {
		pathStart, pathEnd := m[2], m[3]
		candidate := text[pathStart:pathEnd]

		if !pathExistsUnder(fs, candidate, projectPath) {
			continue
		}
		if seen[candidate] {
			// still strip a repeated mention from the display text
		} else {
			seen[candidate] = true
			paths = append(paths, candidate)
		}

		b.WriteString(text[last:pathStart])
		last = pathEnd
	}
	b.WriteString(text[last:])

	if len(paths) == 0 {
		return text, nil
	}
	return collapseBlankRuns(b.String()), paths
}

// pathExistsUnder reports whether candidate exists on fs and, when
// projectPath is set, resolves to a location under it.
func pathExistsUnder(fs afero.Fs, candidate, projectPath string) bool {
	info, err := fs.Stat(candidate)
	if err != nil || info.IsDir() {
		return false
	}
	if projectPath == "" {
		return true
	}
	absProject, err := filepath.Abs(projectPath)
	if err != nil {
		return false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absProject, absCandidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// collapseBlankRuns trims trailing whitespace left behind on lines whose
// sole content was a now-stripped path, and collapses 3+ blank lines
// down to one.
func collapseBlankRuns(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blankRun := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
