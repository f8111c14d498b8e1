// interpreter.go verifies that the configured shell exists on the system.
// It uses exec.LookPath to search $PATH for the shell binary, failing fast
// if the shell is not available rather than failing at every execution.
package executor

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ValidShells defines the allowlist of supported command interpreters.
// Each takes the command text as a single argument after -c (or /c for cmd).
var ValidShells = []string{"sh", "bash", "dash", "zsh", "ksh", "cmd", "cmd.exe"}

// ShellCache caches shell paths to avoid repeated lookups.
type ShellCache struct {
	mu    sync.RWMutex
	cache map[string]string
}

// NewShellCache creates a new shell path cache.
func NewShellCache() *ShellCache {
	return &ShellCache{
		cache: make(map[string]string),
	}
}

// Lookup checks that shell is allowlisted and present, and returns its path.
// shell may be a bare name or a path; the allowlist is checked against its base name.
func (c *ShellCache) Lookup(shell string) (string, error) {
	if !IsValidShell(shell) {
		return "", fmt.Errorf("invalid shell: %q (allowed: %s)", shell, strings.Join(ValidShells, ", "))
	}

	c.mu.RLock()
	if path, ok := c.cache[shell]; ok {
		c.mu.RUnlock()
		return path, nil
	}
	c.mu.RUnlock()

	path, err := exec.LookPath(shell)
	if err != nil {
		return "", fmt.Errorf("shell %q not found: %w", shell, err)
	}

	c.mu.Lock()
	c.cache[shell] = path
	c.mu.Unlock()

	return path, nil
}

// IsValidShell reports whether the base name of shell is in the allowlist.
// Names are case-sensitive except for the Windows cmd interpreter.
func IsValidShell(shell string) bool {
	if shell == "" || shell != strings.TrimSpace(shell) {
		return false
	}
	base := filepath.Base(shell)
	if strings.EqualFold(base, "cmd") || strings.EqualFold(base, "cmd.exe") {
		return true
	}
	return slices.Contains(ValidShells, base)
}

// defaultShells is shared by executors built with New.
var defaultShells = NewShellCache()

// LookupShell is a convenience function using the shared cache.
func LookupShell(shell string) (string, error) {
	return defaultShells.Lookup(shell)
}
