package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/tandem/config"
	"github.com/m4xw311/tandem/errors"
)

// PathGuard confines file tools to a set of root directories and applies
// the hidden and read-only glob lists.
type PathGuard struct {
	roots    []string
	hidden   []string
	readOnly []string
}

// NewPathGuard resolves the configured roots. No roots means the working
// directory.
func NewPathGuard(fs config.FilesystemAccess) (*PathGuard, error) {
	roots := fs.Roots
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrapf(err, "could not get working directory")
		}
		roots = []string{wd}
	}
	g := &PathGuard{hidden: fs.Hidden, readOnly: fs.ReadOnly}
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid filesystem root '%s'", r)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		g.roots = append(g.roots, abs)
	}
	for _, p := range append(append([]string{}, fs.Hidden...), fs.ReadOnly...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern '%s'", p)
		}
	}
	return g, nil
}

// Resolve returns the absolute form of path, failing with
// *PathTraversalError when it falls outside every root.
func (g *PathGuard) Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved := resolveExisting(abs)
	for _, root := range g.roots {
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return resolved, nil
		}
	}
	return "", &PathTraversalError{Path: resolved, Root: g.roots[0]}
}

// resolveExisting follows symlinks for the longest existing prefix of p so
// a link inside a root cannot point outside it.
func resolveExisting(p string) string {
	var tail []string
	cur := p
	for {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{r}, tail...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// Hidden reports whether path matches a hidden pattern.
func (g *PathGuard) Hidden(path string) bool { return g.match(path, g.hidden) }

// ReadOnly reports whether path matches a read-only pattern.
func (g *PathGuard) ReadOnly(path string) bool { return g.match(path, g.readOnly) }

// match checks the path both as given and relative to each root, so
// patterns like ".tandem/**" work for absolute paths too.
func (g *PathGuard) match(path string, patterns []string) bool {
	candidates := []string{filepath.ToSlash(filepath.Clean(path))}
	if abs, err := filepath.Abs(path); err == nil {
		abs = resolveExisting(abs)
		candidates = append(candidates, filepath.ToSlash(abs))
		for _, root := range g.roots {
			if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
				candidates = append(candidates, filepath.ToSlash(rel))
			}
		}
	}
	for _, pattern := range patterns {
		for _, c := range candidates {
			if ok, _ := doublestar.Match(pattern, c); ok {
				return true
			}
		}
	}
	return false
}

// DefaultBlockedCommands are refused regardless of configuration unless
// explicitly allowed.
var DefaultBlockedCommands = []string{
	"rm", "rmdir", "del", "shred",
	"mkfs", "dd", "fdisk", "parted", "mount", "umount",
	"chmod", "chown", "chgrp",
	"sudo", "su", "doas", "pkexec",
	"shutdown", "reboot", "init", "systemctl",
	"curl", "wget",
}

// injectionPatterns are shell operators that would only mean something to a
// shell; commands run without one, so they are rejected outright.
var injectionPatterns = []string{";", "&&", "||", "|", "`", "$(", ">", ">>", "<", "\n", "\r"}

// CommandPolicy decides whether run_command may execute a command line.
type CommandPolicy struct {
	blocked map[string]bool
	allowed []*regexp.Regexp
	Timeout time.Duration
}

// NewCommandPolicy builds a policy. allowed holds regular expressions; when
// non-empty a command must match one of them. Base names in allowed that
// equal a blocked command also lift the block.
func NewCommandPolicy(allowed, blocked []string, timeout time.Duration) (*CommandPolicy, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	p := &CommandPolicy{blocked: make(map[string]bool), Timeout: timeout}
	for _, c := range DefaultBlockedCommands {
		p.blocked[c] = true
	}
	for _, c := range blocked {
		p.blocked[c] = true
	}
	for _, pattern := range allowed {
		delete(p.blocked, pattern)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid regex in allowed_commands '%s'", pattern)
		}
		p.allowed = append(p.allowed, re)
	}
	return p, nil
}

// Check validates command and returns its argv.
func (p *CommandPolicy) Check(command string) ([]string, error) {
	for _, pattern := range injectionPatterns {
		if strings.Contains(command, pattern) {
			return nil, &DisallowedCommandError{Command: command, Reason: fmt.Sprintf("Contains disallowed pattern: '%s'", pattern)}
		}
	}
	parts, err := SplitCommand(command)
	if err != nil {
		return nil, &DisallowedCommandError{Command: command, Reason: fmt.Sprintf("Failed to parse command: %v", err)}
	}
	if len(parts) == 0 {
		return nil, &DisallowedCommandError{Command: "", Reason: "Empty command"}
	}
	base := filepath.Base(parts[0])
	if p.blocked[base] {
		return nil, &DisallowedCommandError{Command: parts[0], Reason: fmt.Sprintf("Command '%s' is blocked for security reasons", base)}
	}
	if len(p.allowed) > 0 {
		matched := false
		for _, re := range p.allowed {
			if re.MatchString(command) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, &DisallowedCommandError{Command: command, Reason: "Command is not in the list of allowed commands"}
		}
	}
	return parts, nil
}

// SplitCommand splits a command line into words using POSIX-like quoting:
// single quotes are literal, double quotes allow backslash escapes of
// ", \, $ and `, and an unquoted backslash escapes the next character.
func SplitCommand(s string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && !strings.ContainsRune("\"\\$`", r) {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if escaped {
		return nil, errors.New("no escaped character")
	}
	if quote != 0 {
		return nil, errors.New("no closing quotation")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
