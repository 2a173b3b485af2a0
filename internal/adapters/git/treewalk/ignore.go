package treewalk

import (
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnorePolicy decides which working paths are ignored. A nil policy ignores only .git.
type IgnorePolicy struct {
	matcher gitignore.Matcher
}

// LoadIgnorePolicy reads .git/info/exclude and every .gitignore below the root of fs.
func LoadIgnorePolicy(fs billy.Filesystem) (*IgnorePolicy, error) {
	patterns, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		return nil, err
	}
	return NewIgnorePolicy(patterns), nil
}

// NewIgnorePolicy builds a policy from already parsed patterns.
func NewIgnorePolicy(patterns []gitignore.Pattern) *IgnorePolicy {
	return &IgnorePolicy{matcher: gitignore.NewMatcher(patterns)}
}

// Ignored reports whether p is ignored.
func (p *IgnorePolicy) Ignored(path string, isDir bool) bool {
	if path == gitDir || strings.HasPrefix(path, gitDir+"/") {
		return true
	}
	if p == nil || p.matcher == nil {
		return false
	}
	return p.matcher.Match(strings.Split(path, "/"), isDir)
}
