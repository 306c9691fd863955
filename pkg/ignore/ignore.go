package ignore

import (
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is read from the directory being stored.
const IgnoreFile = ".svignore"

// Matcher decides which paths `sv put` skips when walking a directory.
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher compiles the built-in rules plus rootPath/.svignore if present.
func NewMatcher(rootPath string) (*Matcher, error) {
	// Always applied, whatever the user file says.
	defaultRules := []string{
		".sv", // the vault itself; storing it would recurse forever
		".git",
		IgnoreFile,

		"config.yaml", // may hold S3 credentials
		".env",

		".DS_Store",
		"Thumbs.db",
	}

	var ignorer *gitignore.GitIgnore
	var err error

	ignoreFilePath := filepath.Join(rootPath, IgnoreFile)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches reports whether path, relative to the root, should be skipped.
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}

// Walk calls fn with the slash separated relative path of every regular
// file under root that is not ignored. Ignored directories are not entered.
func (m *Matcher) Walk(root string, fn func(rel string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(rel)
	})
}
