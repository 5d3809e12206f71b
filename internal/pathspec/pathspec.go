// Package pathspec implements the path policy shared by the scanner and
// the watcher: normalization, include/exclude evaluation, and
// desktop-entry recognition.
package pathspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/novik133/novasearch/internal/apperr"
)

// Normalize expands a leading tilde, resolves . and .. lexically, and
// returns the cleaned absolute path. Relative paths and empty strings are
// rejected with apperr.ErrInvalidPath. Symlinks are preserved, not
// resolved.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("normalize %q: %w", p, apperr.ErrInvalidPath)
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("normalize %q: %w", p, apperr.ErrInvalidPath)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("normalize %q: %w", p, apperr.ErrInvalidPath)
	}
	return filepath.Clean(p), nil
}

// pattern is one compiled exclude rule. Slash-less patterns match any
// single path component; patterns containing a slash match the path (and
// each ancestor) with / as the segment separator, so * stays within a
// segment and ** crosses segments.
type pattern struct {
	raw       string
	component bool
	g         glob.Glob
}

// Spec is an immutable snapshot of the include/exclude policy. Build one
// with New whenever the configuration changes; evaluation is lock-free.
type Spec struct {
	roots    []string
	patterns []pattern
}

// New compiles a policy from normalized include roots and exclude
// patterns. The fixed application roots are appended to the include set.
// Invalid glob patterns are reported and skipped so a single bad pattern
// does not disable exclusion entirely.
func New(includeRoots, excludePatterns, applicationRoots []string) (*Spec, []error) {
	s := &Spec{}
	seen := make(map[string]struct{})
	for _, r := range append(append([]string{}, includeRoots...), applicationRoots...) {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		s.roots = append(s.roots, r)
	}

	var errs []error
	for _, raw := range excludePatterns {
		p := pattern{raw: raw, component: !strings.Contains(raw, "/")}
		var g glob.Glob
		var err error
		if p.component {
			g, err = glob.Compile(raw)
		} else {
			g, err = glob.Compile(strings.TrimPrefix(raw, "/"), '/')
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("exclude pattern %q: %w", raw, err))
			continue
		}
		p.g = g
		s.patterns = append(s.patterns, p)
	}
	return s, errs
}

// Roots returns the effective root set (user roots plus application
// roots, deduplicated, in order).
func (s *Spec) Roots() []string {
	return s.roots
}

// UnderRoot reports whether p lies under (or is) any effective root.
func (s *Spec) UnderRoot(p string) bool {
	for _, r := range s.roots {
		if p == r || strings.HasPrefix(p, r+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// Excluded reports whether p or any of its ancestor components matches an
// exclude pattern. The first matching pattern wins.
func (s *Spec) Excluded(p string) bool {
	if len(s.patterns) == 0 {
		return false
	}
	rel := strings.TrimPrefix(p, "/")
	components := strings.Split(rel, "/")
	for _, pat := range s.patterns {
		if pat.component {
			for _, c := range components {
				if pat.g.Match(c) {
					return true
				}
			}
			continue
		}
		// Match the full path and every ancestor prefix.
		for i := len(components); i > 0; i-- {
			if pat.g.Match(strings.Join(components[:i], "/")) {
				return true
			}
		}
	}
	return false
}

// Included reports whether p belongs in the index: under some effective
// root and not excluded.
func (s *Spec) Included(p string) bool {
	return s.UnderRoot(p) && !s.Excluded(p)
}

// IsDesktopEntry reports whether p names a desktop entry: the .desktop
// suffix under one of the recognized application roots. A .desktop file
// elsewhere is indexed as a plain file.
func IsDesktopEntry(p string, applicationRoots []string) bool {
	if !strings.HasSuffix(p, ".desktop") {
		return false
	}
	for _, r := range applicationRoots {
		if strings.HasPrefix(p, r+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
