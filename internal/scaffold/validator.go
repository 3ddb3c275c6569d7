package scaffold

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/chalk/internal/config"
)

// ErrAlreadyInitialized is returned when dir already holds a chalk.yml.
var ErrAlreadyInitialized = errors.New("project already initialized")

// CheckExisting returns ErrAlreadyInitialized if dir already holds a chalk.yml.
func CheckExisting(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, config.DefaultPath)); err == nil {
		return fmt.Errorf("%w: found existing %s", ErrAlreadyInitialized, config.DefaultPath)
	}
	return nil
}
