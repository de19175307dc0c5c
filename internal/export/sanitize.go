package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ValidateName checks that name can be used as an artifact base name
// inside the output directory without escaping it.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("artifact name is required")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("artifact name cannot be %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact name cannot contain path separators")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("artifact name cannot contain control characters")
		}
	}
	return nil
}

// PrepareDir validates dir and creates it when missing.
func PrepareDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output dir cannot contain path traversal")
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir is not a directory")
	}
	return nil
}
