package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "videos", "nested")

		s, err := NewLocalStorage(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, s.TempDir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("defaults under os temp dir", func(t *testing.T) {
		s, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), DefaultTempDirName), s.TempDir())
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	t.Run("keeps name and extension", func(t *testing.T) {
		path, err := s.SaveTemp(ctx, "gen-1-abc.mp4", strings.NewReader("video bytes"))
		require.NoError(t, err)

		assert.Equal(t, s.TempDir(), filepath.Dir(path))
		assert.True(t, strings.HasPrefix(filepath.Base(path), "gen-1-abc_"), path)
		assert.Equal(t, ".mp4", filepath.Ext(path))

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "video bytes", string(content))
	})

	t.Run("strips directories from the name", func(t *testing.T) {
		path, err := s.SaveTemp(ctx, "../../escape.mp4", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, s.TempDir(), filepath.Dir(path))
	})

	t.Run("two saves never collide", func(t *testing.T) {
		a, err := s.SaveTemp(ctx, "same.mp4", strings.NewReader("a"))
		require.NoError(t, err)
		b, err := s.SaveTemp(ctx, "same.mp4", strings.NewReader("b"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		before, _ := os.ReadDir(s.TempDir())
		_, err := s.SaveTemp(ctx, "broken.mp4", io.MultiReader(strings.NewReader("part"), errReader{}))
		require.Error(t, err)
		after, _ := os.ReadDir(s.TempDir())
		assert.Len(t, after, len(before))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.SaveTemp(cctx, "x.mp4", strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveTemp(ctx, "load.mp4", strings.NewReader("load data"))
	require.NoError(t, err)

	rc, err := s.LoadTemp(ctx, path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "load data", string(content))

	_, err = s.LoadTemp(ctx, filepath.Join(s.TempDir(), "missing.mp4"))
	assert.Error(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.LoadTemp(cctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var paths []string
	for range 3 {
		p, err := s.SaveTemp(ctx, "cleanup.mp4", bytes.NewReader([]byte("data")))
		require.NoError(t, err)
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(s.TempDir(), "never-existed.mp4"))

	require.NoError(t, s.CleanupTemp(ctx, paths))
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.ErrorIs(t, err, os.ErrNotExist)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.CleanupTemp(cctx, []string{"x"}), context.Canceled)
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.UploadToS3(context.Background(), "videos/x.mp4", strings.NewReader("data"))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}
