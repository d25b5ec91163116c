package store

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
)

const (
	headFile = "head"
	bodyFile = "body"
	sigsFile = "sigs"
)

// entryDir returns the directory a response keyed by key lives under
// root: HEX(SHA-1(key))[0:2]/HEX(SHA-1(key))[2:], per spec.md §3. Two
// path components keep any one directory from holding every entry in
// the store.
func entryDir(root, key string) string {
	sum := sha1.Sum([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(root, h[:2], h[2:])
}
