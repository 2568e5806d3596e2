package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/catalog"
)

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio payload"), 0o600))
	return path
}

func TestFSLibraryPlace(t *testing.T) {
	t.Parallel()

	t.Run("lays out author slash title", func(t *testing.T) {
		t.Parallel()

		work := t.TempDir()
		lib := NewFSLibrary(t.TempDir())
		source := writeArtifact(t, work, "B00TEST.m4b")

		final, err := lib.Place(context.Background(),
			catalog.Item{ID: "B00TEST", Title: "The Stand", Author: "Stephen King"}, source)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(lib.Root, "Stephen King", "The Stand.m4b"), final)
		data, err := os.ReadFile(final)
		require.NoError(t, err)
		assert.Equal(t, "audio payload", string(data))

		// The source stays put; the caller owns intermediate cleanup.
		assert.FileExists(t, source)
	})

	t.Run("sanitizes unsafe name characters", func(t *testing.T) {
		t.Parallel()

		work := t.TempDir()
		lib := NewFSLibrary(t.TempDir())
		source := writeArtifact(t, work, "B00TEST.m4b")

		final, err := lib.Place(context.Background(),
			catalog.Item{ID: "B00TEST", Title: "Vol. 1/2: What?", Author: "A\\B"}, source)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(lib.Root, "A_B", "Vol. 1_2_ What_.m4b"), final)
		assert.FileExists(t, final)
	})

	t.Run("falls back when metadata is missing", func(t *testing.T) {
		t.Parallel()

		work := t.TempDir()
		lib := NewFSLibrary(t.TempDir())
		source := writeArtifact(t, work, "B00TEST.m4b")

		final, err := lib.Place(context.Background(), catalog.Item{ID: "B00TEST"}, source)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(lib.Root, "Unknown Author", "B00TEST.m4b"), final)
	})

	t.Run("leaves no partial file on cancellation", func(t *testing.T) {
		t.Parallel()

		work := t.TempDir()
		lib := NewFSLibrary(t.TempDir())
		source := writeArtifact(t, work, "B00TEST.m4b")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := lib.Place(ctx, catalog.Item{ID: "B00TEST", Title: "T", Author: "A"}, source)
		require.Error(t, err)

		assert.NoFileExists(t, filepath.Join(lib.Root, "A", "T.m4b"))
		entries, err := os.ReadDir(filepath.Join(lib.Root, "A"))
		require.NoError(t, err)
		assert.Empty(t, entries, "temp files are cleaned up on abort")
	})

	t.Run("missing source fails", func(t *testing.T) {
		t.Parallel()

		lib := NewFSLibrary(t.TempDir())
		_, err := lib.Place(context.Background(),
			catalog.Item{ID: "B00TEST", Title: "T", Author: "A"},
			filepath.Join(t.TempDir(), "nope.m4b"))
		assert.Error(t, err)
	})
}
