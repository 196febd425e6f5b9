// Package summary caches the per-file descriptions the prompt manager's
// summary region is built from: one short (≤ ~50 token) description per
// (commit, path) pair, idempotent on the file's content hash so a file that
// is byte-identical across commits is never summarised twice.
package summary

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Summarizer produces the description for one file's content. The host
// typically backs this with a small auxiliary model; tests use a plain
// function.
type Summarizer func(path string, content []byte) (string, error)

type key struct {
	commit string
	path   string
}

// Cache holds file summaries keyed by (commit, path), with a second index
// by content hash for cross-commit reuse.
type Cache struct {
	mu        sync.Mutex
	byKey     map[key]string
	byContent map[string]string
}

// NewCache creates an empty summary cache.
func NewCache() *Cache {
	return &Cache{
		byKey:     make(map[key]string),
		byContent: make(map[string]string),
	}
}

// HashContent computes the content hash summaries are deduplicated on.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached summary for (commit, path), if any.
func (c *Cache) Get(commit, path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.byKey[key{commit: commit, path: path}]
	return text, ok
}

// Put records a summary for (commit, path) with the given content hash.
func (c *Cache) Put(commit, path, contentHash, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key{commit: commit, path: path}] = text
	c.byContent[contentHash] = text
}

// Ensure returns the summary for (commit, path), producing it with fn only
// when no summary exists for the content hash yet. A file unchanged across
// commits reuses the prior summary without calling fn.
func (c *Cache) Ensure(commit, path string, content []byte, fn Summarizer) (string, error) {
	contentHash := HashContent(content)

	c.mu.Lock()
	k := key{commit: commit, path: path}
	if text, ok := c.byKey[k]; ok {
		c.mu.Unlock()
		return text, nil
	}
	if text, ok := c.byContent[contentHash]; ok {
		c.byKey[k] = text
		c.mu.Unlock()
		return text, nil
	}
	c.mu.Unlock()

	text, err := fn(path, content)
	if err != nil {
		return "", err
	}
	c.Put(commit, path, contentHash, text)
	return text, nil
}
