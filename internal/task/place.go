package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/audiarr/audiarr/internal/catalog"
)

// Library places finished books into their final location.
type Library interface {
	// Place copies the validated artifact into the library and returns the
	// final path.
	Place(ctx context.Context, item catalog.Item, sourcePath string) (string, error)
}

// FSLibrary places books into a directory tree rooted at Root, laid out as
// Author/Title.ext. It writes through a temp file in the destination
// directory so a crash mid-copy never leaves a half-written book at the
// final path.
type FSLibrary struct {
	Root string
}

// NewFSLibrary creates an FSLibrary rooted at root.
func NewFSLibrary(root string) *FSLibrary {
	return &FSLibrary{Root: root}
}

// Place implements Library.
func (l *FSLibrary) Place(ctx context.Context, item catalog.Item, sourcePath string) (string, error) {
	author := sanitizePathComponent(item.Author)
	if author == "" {
		author = "Unknown Author"
	}
	title := sanitizePathComponent(item.Title)
	if title == "" {
		title = item.ID
	}

	dir := filepath.Join(l.Root, author)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create library directory: %w", err)
	}

	finalPath := filepath.Join(dir, title+filepath.Ext(sourcePath))
	if err := copyFile(ctx, sourcePath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// copyFile copies src to dst via a temp file and rename.
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source artifact: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".audiarr-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: in}); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize copy: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// contextReader aborts a long copy when the context is cancelled, checking
// once per read so the overhead stays negligible.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// sanitizePathComponent strips characters that are unsafe in file names.
func sanitizePathComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
