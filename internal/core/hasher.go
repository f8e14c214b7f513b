package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// TreeHash identifies the full content of a directory tree.
type TreeHash string

// String returns the hex form.
func (t TreeHash) String() string { return string(t) }

// TreeHasher fingerprints assembled source trees.
//
// The hash covers relative paths and file contents only; timestamps and
// permissions are ignored so two assemblies of the same inputs compare equal.
type TreeHasher struct{}

// NewTreeHasher creates a new TreeHasher.
func NewTreeHasher() *TreeHasher {
	return &TreeHasher{}
}

// Hash walks root and returns its fingerprint.
func (h *TreeHasher) Hash(root string) (TreeHash, error) {
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(rels)

	hasher := sha256.New()
	writeField(hasher, binary.BigEndian.AppendUint64(nil, uint64(len(rels))))
	for _, rel := range rels {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		writeField(hasher, []byte(rel))
		writeField(hasher, content)
	}
	return TreeHash(hex.EncodeToString(hasher.Sum(nil))), nil
}

// writeField writes an 8-byte big-endian length prefix followed by data.
func writeField(h hash.Hash, data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}
