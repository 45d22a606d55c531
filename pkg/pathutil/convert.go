// Package pathutil converts between the absolute paths the index uses
// internally and the root-relative paths shown to users, and answers
// containment questions about the configured roots.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ToRelative converts an absolute path to relative based on a root
// directory. Falls back to the original path when the file sits outside
// the root or the path is already relative.
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return absPath
	}
	if strings.HasPrefix(relPath, "..") {
		return absPath
	}
	return relPath
}

// Canonicalize resolves a path to its absolute, symlink-free form. The
// index keys everything by canonical paths so the same file can never
// appear twice under aliased spellings.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The path may not exist yet; canonicalize the parent instead
		// so pending files still normalize consistently.
		dir, base := filepath.Split(abs)
		resolvedDir, dirErr := filepath.EvalSymlinks(filepath.Clean(dir))
		if dirErr != nil {
			return filepath.Clean(abs), nil
		}
		return filepath.Join(resolvedDir, base), nil
	}
	return resolved, nil
}

// Contains reports whether path sits at or below root. Both arguments
// must already be cleaned absolute paths.
func Contains(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	if root == path {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

// Subfolder derives the asset's subfolder: the directory of the file
// relative to its root, "" for files directly under the root.
func Subfolder(root, path string) string {
	rel := ToRelative(path, root)
	if filepath.IsAbs(rel) {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	return filepath.ToSlash(dir)
}
