package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ValidatePath rejects paths with directory traversal components.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}

// ValidatePathWithin validates that path resolves inside baseDir.
func ValidatePathWithin(path, baseDir string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	full := filepath.Clean(filepath.Join(baseDir, path))
	base := filepath.Clean(baseDir)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}

// SafeFilename sanitizes an uploaded attachment filename. The raw name
// is reinterpreted as UTF-8 (browsers may submit latin-1 bytes),
// Unicode-normalized to NFC, and every forbidden or control character
// is replaced with an underscore.
func SafeFilename(name string) string {
	decoded := name
	if !utf8.ValidString(name) {
		// Treat each byte as a latin-1 code point.
		runes := make([]rune, 0, len(name))
		for i := 0; i < len(name); i++ {
			runes = append(runes, rune(name[i]))
		}
		decoded = string(runes)
	}

	normalized := norm.NFC.String(decoded)

	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return "_"
	}
	return out
}
