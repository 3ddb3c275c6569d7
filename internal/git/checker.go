// Package git locates the repository a chalk board belongs to.
package git

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrGitNotFound is returned when the git binary is not on PATH.
var ErrGitNotFound = errors.New("git not found in PATH")

// Checker runs git queries relative to Dir ("" means the working directory).
type Checker struct {
	Dir string
}

// NewChecker creates a new Git checker rooted at dir.
func NewChecker(dir string) *Checker {
	return &Checker{Dir: dir}
}

func (c *Checker) command(args ...string) *exec.Cmd {
	cmd := exec.Command("git", args...)
	cmd.Dir = c.Dir
	return cmd
}

// IsGitRepository checks if Dir is within a Git repository
func (c *Checker) IsGitRepository() (bool, error) {
	err := c.command("rev-parse", "--git-dir").Run()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return false, ErrGitNotFound
		}
		// Not in a Git repository
		return false, nil
	}
	return true, nil
}

// GetGitRoot returns the absolute path to the Git repository root
func (c *Checker) GetGitRoot() (string, error) {
	output, err := c.command("rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get Git root: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ProjectName returns the base name of the repository root, or of Dir when
// it is not inside a repository.
func (c *Checker) ProjectName() (string, error) {
	if ok, err := c.IsGitRepository(); err == nil && ok {
		root, err := c.GetGitRoot()
		if err != nil {
			return "", err
		}
		return filepath.Base(root), nil
	}
	dir := c.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	return filepath.Base(abs), nil
}

// EnsureIgnored appends entry to the repository's .gitignore unless an
// identical line is already present. It reports whether the file changed.
func (c *Checker) EnsureIgnored(entry string) (bool, error) {
	root, err := c.GetGitRoot()
	if err != nil {
		return false, err
	}
	path := filepath.Join(root, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to read .gitignore: %w", err)
	}
	sc := bufio.NewScanner(strings.NewReader(string(existing)))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == entry {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open .gitignore: %w", err)
	}
	defer f.Close()

	line := entry + "\n"
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		line = "\n" + line
	}
	if _, err := f.WriteString(line); err != nil {
		return false, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	return true, nil
}
