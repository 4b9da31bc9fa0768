package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// NormalizeName keeps only the base name of a client supplied file name,
// lowercased, with spaces replaced by underscores.
func NormalizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(strings.ToLower(name), " ", "_")
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", errors.New("invalid file name")
	}
	return name, nil
}

// Save copies r into dir under the normalized name and returns the saved
// path. An existing file with the same name is replaced.
func Save(dir, name string, r io.Reader) (string, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return "", fmt.Errorf("failed to save upload %q: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads dir: %w", err)
	}

	path := filepath.Join(dir, normalized)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.Info().Str("file", path).Int64("bytes", n).Msg("Saved upload")
	return path, nil
}

// DetectMIME sniffs the content type of a saved file.
func DetectMIME(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect type of %s: %w", path, err)
	}
	return mt.String(), nil
}
