package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxMetadataEntries = 64
	maxMetadataValue   = 4096
)

// metadataKeyRegex matches metadata keys (alphanumeric, dash, underscore, dot, slash)
var metadataKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9_./-]{1,128}$`)

// ValidateSessionID checks that id is a UUID as issued by session creation
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session ID format: %s", id)
	}
	return nil
}

// ValidateWorkingDir checks that dir is an absolute path to an existing
// directory and returns its cleaned form.
func ValidateWorkingDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("working directory cannot be empty")
	}
	if strings.ContainsRune(dir, 0) {
		return "", fmt.Errorf("working directory contains NUL byte")
	}
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("working directory must be absolute: %s", dir)
	}

	cleaned := filepath.Clean(dir)
	info, err := os.Stat(cleaned)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", cleaned, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory is not a directory: %s", cleaned)
	}
	return cleaned, nil
}

// ValidateMetadata bounds the size and key format of session metadata
func ValidateMetadata(md map[string]string) error {
	if len(md) > maxMetadataEntries {
		return fmt.Errorf("too many metadata entries: %d > %d", len(md), maxMetadataEntries)
	}
	for k, v := range md {
		if !metadataKeyRegex.MatchString(k) {
			return fmt.Errorf("invalid metadata key: %q", k)
		}
		if len(v) > maxMetadataValue {
			return fmt.Errorf("metadata value for %q exceeds %d bytes", k, maxMetadataValue)
		}
	}
	return nil
}
