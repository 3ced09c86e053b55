package filestore

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFSStore_PathLayout(t *testing.T) {
	s := newTestStore(t)

	p := s.Path("Example image.png")
	rel, err := filepath.Rel(s.root, p)
	require.NoError(t, err)

	parts := strings.Split(rel, string(filepath.Separator))
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 1)
	assert.Len(t, parts[1], 2)
	assert.True(t, strings.HasPrefix(parts[1], parts[0]))
	assert.Equal(t, "Example_image.png", parts[2])

	// Same name, same place.
	assert.Equal(t, p, s.Path("File:Example_image.png"))
}

func TestFSStore_ArchivePath(t *testing.T) {
	s := newTestStore(t)

	p := s.ArchivePath("Cat.jpg", "20230201000000!Cat.jpg")
	rel, err := filepath.Rel(s.root, p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, ArchiveDir+string(filepath.Separator)))
	assert.True(t, strings.HasSuffix(rel, "20230201000000!Cat.jpg"))
}

func TestFSStore_Has(t *testing.T) {
	s := newTestStore(t)
	p := filepath.Join(s.root, "x.bin")

	has, err := s.Has(p, sha1Hex([]byte("data")))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, os.WriteFile(p, []byte("data"), 0644))

	has, err = s.Has(p, strings.ToUpper(sha1Hex([]byte("data"))))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.Has(p, sha1Hex([]byte("other")))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHashFile_NotFound(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	s := newTestStore(t)
	p := filepath.Join(s.root, "x.bin")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0644))

	require.NoError(t, s.Delete(p))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	// Should not error when deleting a missing file
	assert.NoError(t, s.Delete(p))
}
