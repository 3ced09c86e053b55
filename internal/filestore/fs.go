// Package filestore lays out mirrored media files on the local filesystem.
// Current versions live under a two-level hashed directory derived from the
// MD5 of the normalized file name; archived versions live under archive/.
package filestore

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrFileNotFound is returned when a file does not exist at the expected path.
var ErrFileNotFound = errors.New("file not found")

// ArchiveDir is the subdirectory for superseded file versions.
const ArchiveDir = "archive"

// FSStore computes and inspects media paths below root.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed media store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// NormalizeName converts a display name into its storage form.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	return strings.TrimPrefix(name, "File:")
}

// hashPrefix returns the "a/ab" directory for a normalized name.
func hashPrefix(name string) string {
	sum := md5.Sum([]byte(name))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:1], h[:2])
}

// Path returns the destination of the current version of name.
func (s *FSStore) Path(name string) string {
	n := NormalizeName(name)
	return filepath.Join(s.root, hashPrefix(n), n)
}

// ArchivePath returns the destination of an archived version of name.
func (s *FSStore) ArchivePath(name, archiveName string) string {
	n := NormalizeName(name)
	return filepath.Join(s.root, ArchiveDir, hashPrefix(n), archiveName)
}

// Has reports whether path exists with the given SHA-1 (hex, case-insensitive).
func (s *FSStore) Has(path, sha1Hex string) (bool, error) {
	got, err := HashFile(path)
	if errors.Is(err, ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, sha1Hex), nil
}

// Delete removes a file. No error if it doesn't exist.
func (s *FSStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// HashFile returns the hex SHA-1 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
