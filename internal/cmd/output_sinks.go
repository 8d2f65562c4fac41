package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/crmpulse/crmpulse/internal/output"
)

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatYAML:
		return "yaml"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	clean = nonFilename.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

// resolveOutPath picks the destination for rendered output: an explicit
// --out path, a file named after name inside --out-dir, or "" for stdout.
func resolveOutPath(out, outDir, name string, format output.Format) (string, error) {
	out = strings.TrimSpace(out)
	outDir = strings.TrimSpace(outDir)
	switch {
	case out != "" && outDir != "":
		return "", errors.New("--out and --out-dir are mutually exclusive")
	case out == "-":
		return "", nil
	case out != "":
		return out, nil
	case outDir == "":
		return "", nil
	}

	abs, err := filepath.Abs(outDir)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	return filepath.Join(abs, sanitizeFilename(name)+"."+outputExtension(format)), nil
}

// writeOutput writes rendered to path, or to stdout when path is empty.
// Files are written to a temporary sibling and renamed into place, so an
// interrupted run never leaves a truncated export behind.
func writeOutput(stdout io.Writer, path, rendered string) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, rendered)
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint:errcheck // no-op after rename

	if _, err := fmt.Fprintln(tmp, rendered); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
