// Package search implements the code search tool used by the reasoning loop.
// It is a shell-free, read-only regex scan over a directory tree.
package search

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"rlmd/internal/logging"
)

// Match represents a single search hit.
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"` // 1-based
	Snippet string `json:"snippet"`
}

// Query holds the parameters for one search call.
type Query struct {
	Pattern      string
	Root         string
	Glob         string   // file-name glob, e.g. "*.go"; empty matches all files
	Ignore       []string // glob patterns matched against the path relative to Root
	MaxResults   int
	MaxFileBytes int
}

// DefaultIgnore is the ignore set applied when a query supplies none.
var DefaultIgnore = []string{".git", "vendor", "node_modules", "*.exe", "*.bin", "*.so"}

const (
	defaultMaxResults   = 50
	defaultMaxFileBytes = 20000
)

// Search scans files under q.Root for lines matching q.Pattern and returns
// matches in filesystem traversal order, stopping at q.MaxResults.
//
// An invalid pattern is reported as a single diagnostic match rather than an
// error, so the tool stays usable from inside the reasoning loop. Unreadable
// files are skipped; oversized files are truncated to q.MaxFileBytes before
// scanning (matches beyond the truncation boundary are lost, by contract).
func Search(ctx context.Context, q Query) ([]Match, error) {
	if q.MaxResults <= 0 {
		q.MaxResults = defaultMaxResults
	}
	if q.MaxFileBytes <= 0 {
		q.MaxFileBytes = defaultMaxFileBytes
	}
	if len(q.Ignore) == 0 {
		q.Ignore = DefaultIgnore
	}
	if q.Root == "" {
		q.Root = "."
	}

	re, err := regexp.Compile("(?i)" + q.Pattern)
	if err != nil {
		logging.Search("invalid pattern %q: %v", q.Pattern, err)
		return []Match{{File: "error", Line: 0, Snippet: fmt.Sprintf("invalid regex: %v", err)}}, nil
	}

	root, err := filepath.Abs(q.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", q.Root, err)
	}

	logging.Search("search: pattern=%q root=%s glob=%q", q.Pattern, root, q.Glob)

	var matches []Match
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(matches) >= q.MaxResults {
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if path != root && ignored(rel, d.Name(), q.Ignore) {
				return filepath.SkipDir
			}
			return nil
		}

		if ignored(rel, d.Name(), q.Ignore) {
			return nil
		}
		if q.Glob != "" {
			ok, _ := filepath.Match(q.Glob, d.Name())
			if !ok {
				return nil
			}
		}

		fileMatches := scanFile(path, re, q.MaxFileBytes, q.MaxResults-len(matches))
		matches = append(matches, fileMatches...)
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		if walkErr == ctx.Err() {
			return matches, walkErr
		}
		return nil, fmt.Errorf("failed to walk %s: %w", root, walkErr)
	}

	logging.Search("search complete: pattern=%q matches=%d", q.Pattern, len(matches))
	return matches, nil
}

// ignored reports whether a path matches any ignore pattern. Patterns are
// tried against both the relative path and the base name, mirroring typical
// .gitignore-lite expectations.
func ignored(rel, base string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// scanFile reads at most maxBytes of a file and collects matching lines.
// Read failures and binary content are skipped silently.
func scanFile(path string, re *regexp.Regexp, maxBytes, budget int) []Match {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)))
	if err != nil {
		return nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil // binary
	}

	var matches []Match
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxBytes+1)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, Match{
				File:    path,
				Line:    lineNum,
				Snippet: strings.TrimSpace(line),
			})
			if len(matches) >= budget {
				break
			}
		}
	}
	return matches
}

// Format renders matches as plain text for feeding back to the model.
func Format(matches []Match) string {
	if len(matches) == 0 {
		return "no matches found"
	}
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Snippet)
	}
	return sb.String()
}
