// Package scaffold writes the starter chalk.yml for a project.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/chalk/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// StateDir holds local board state such as the sqlite database.
const StateDir = ".chalk"

// Options fills the generated configuration.
type Options struct {
	Instance   string
	Backend    string // config.BackendRedis or config.BackendSQLite
	RedisURL   string
	SQLitePath string
}

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes chalk.yml and the state directory into dir and returns
// the paths it created. If force is true an existing chalk.yml is replaced.
func Initialize(dir string, opts Options, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	files, err := getTemplateFiles(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, StateDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", StateDir, err)
	}

	created := []string{StateDir + "/"}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}
	return created, nil
}

// handleForce removes an existing chalk.yml. Board state is left alone.
func handleForce(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultPath, err)
		}
	}
	return nil
}

// getTemplateFiles renders every template with opts
func getTemplateFiles(opts Options) ([]FileInfo, error) {
	if opts.Instance == "" {
		opts.Instance = "default"
	}
	if opts.Backend == "" {
		opts.Backend = config.BackendSQLite
	}
	if opts.SQLitePath == "" {
		opts.SQLitePath = StateDir + "/board.sqlite"
	}
	if opts.RedisURL == "" {
		opts.RedisURL = "redis://localhost:6379"
	}

	raw, err := templatesFS.ReadFile("templates/chalk.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read chalk.yml template: %w", err)
	}
	tmpl, err := template.New(config.DefaultPath).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse chalk.yml template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render chalk.yml: %w", err)
	}

	return []FileInfo{{
		Path:        config.DefaultPath,
		Content:     buf.Bytes(),
		Permissions: 0644,
	}}, nil
}

// validateCreatedFiles loads the written configuration the way every
// command will.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("created %s is not valid: %w", config.DefaultPath, err)
	}
	return nil
}
