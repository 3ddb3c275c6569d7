package instance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultNamePrefix is the prefix for auto-generated instance names
	DefaultNamePrefix = "default-"

	// SessionNamePrefix is the prefix for auto-generated session names
	SessionNamePrefix = "s-"

	// MaxNameLength is the maximum length for an instance or session name
	MaxNameLength = 63
)

var (
	// NamePattern is the regex pattern for valid instance and session names.
	// Lowercase alphanumeric, hyphens allowed (but not at start/end). The
	// names end up inside store tags and Redis keys, so they stay narrow.
	NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// ValidateName checks if an instance or session name is valid.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// GenerateDefaultName returns the next available default-N name given the
// instance names already present on the board.
func GenerateDefaultName(existing []string) string {
	highestN := 0
	for _, name := range existing {
		if !strings.HasPrefix(name, DefaultNamePrefix) {
			continue
		}
		// Extract number after "default-"
		if n, err := strconv.Atoi(strings.TrimPrefix(name, DefaultNamePrefix)); err == nil && n > highestN {
			highestN = n
		}
	}
	return fmt.Sprintf("%s%d", DefaultNamePrefix, highestN+1)
}

// NewSessionName returns a sortable session name for a session starting at now.
func NewSessionName(now time.Time) string {
	return SessionNamePrefix + now.UTC().Format("20060102-150405")
}

// SanitizeName maps arbitrary text onto a valid name: lowercased, every
// other character replaced by '-', truncated and trimmed of edge hyphens.
// The result may be empty.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := b.String()
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return strings.Trim(name, "-")
}
