package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestScanner(t *testing.T, dir string) *Scanner {
	t.Helper()
	filter, err := NewGlobFilter([]string{"*.pdf"}, nil)
	require.NoError(t, err)
	return NewScanner(dir, filter, zerolog.Nop())
}

func TestScanListsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SOLDADURA.pdf", "pdf-1")
	writeFile(t, dir, "ROPA LABORAL.PDF", "pdf-22")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	mtime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "SOLDADURA.pdf"), mtime, mtime))

	files, err := newTestScanner(t, dir).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	// ReadDir order is by name
	assert.Equal(t, "ROPA LABORAL.PDF", files[0].FileName)
	assert.Equal(t, int64(6), files[0].Size)
	assert.Equal(t, "SOLDADURA.pdf", files[1].FileName)
	assert.Equal(t, filepath.Join(dir, "SOLDADURA.pdf"), files[1].FullPath)
	assert.True(t, files[1].ModifiedAt.Equal(mtime))
	assert.Equal(t, os.FileMode(0o644), files[1].Mode&0o777)
}

func TestScanMissingFolderReturnsEmpty(t *testing.T) {
	s := newTestScanner(t, filepath.Join(t.TempDir(), "does-not-exist"))

	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestScanCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.pdf", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScanner(t, dir).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.pdf", "content")
	s := newTestScanner(t, dir)

	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := s.Read(files[0])
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	require.NoError(t, os.Remove(files[0].FullPath))
	_, err = s.Read(files[0])
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.pdf", "a")
	s := newTestScanner(t, dir)

	require.NoError(t, s.Delete("A.pdf"))
	_, err := os.Stat(filepath.Join(dir, "A.pdf"))
	assert.True(t, os.IsNotExist(err))

	// Already gone is success
	assert.NoError(t, s.Delete("A.pdf"))
}

func TestDeleteRejectsTraversal(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "source")
	require.NoError(t, os.Mkdir(dir, 0o755))
	writeFile(t, parent, "outside.pdf", "keep")
	s := newTestScanner(t, dir)

	for _, name := range []string{"", ".", "..", "../outside.pdf", filepath.Join("sub", "x.pdf")} {
		err := s.Delete(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err := os.Stat(filepath.Join(parent, "outside.pdf"))
	assert.NoError(t, err)
}

func TestPending(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.pdf", "a")
	writeFile(t, dir, "B.pdf", "b")
	writeFile(t, dir, "c.txt", "c")

	n, err := newTestScanner(t, dir).Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
