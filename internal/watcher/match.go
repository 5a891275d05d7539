package watcher

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// matcher decides which workspace-relative paths are interesting.
type matcher struct {
	include []string
	ignore  []string
}

func newMatcher(include, ignore []string) matcher {
	return matcher{include: include, ignore: ignore}
}

// ignoredDir reports whether a directory (relative, slash separated) should
// not be watched at all.
func (m matcher) ignoredDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	return m.ignored(rel)
}

// ignored reports whether rel falls under a dot segment or an ignore glob.
func (m matcher) ignored(rel string) bool {
	segments := strings.Split(rel, "/")
	for _, segment := range segments {
		if strings.HasPrefix(segment, ".") && segment != "." && segment != ".." {
			return true
		}
	}
	for _, pattern := range m.ignore {
		if !strings.ContainsAny(pattern, "/*?[{") {
			for _, segment := range segments {
				if segment == pattern {
					return true
				}
			}
			continue
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/")+"/**", rel); ok {
			return true
		}
	}
	return false
}

// matchFile reports whether a file should produce change tasks.
func (m matcher) matchFile(rel string) bool {
	if m.ignored(rel) {
		return false
	}
	for _, pattern := range m.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func relSlash(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
