// Package merkle implements the incremental Merkle tree backing the evidence
// ledger. Leaves are evidence content hashes in insertion order; each level
// pairs adjacent nodes (duplicating the last node when a level has odd length)
// until a single root remains.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// Tree is an append-only Merkle tree over hex-encoded leaf hashes.
type Tree struct {
	leaves []string
	levels [][]string // levels[0] == leaves, last level is [root]
}

// New creates a tree from the given leaves, which may be empty.
func New(leaves []string) *Tree {
	t := &Tree{leaves: append([]string(nil), leaves...)}
	t.rebuild()
	return t
}

// AddLeaf appends a leaf hash and rebuilds the tree.
func (t *Tree) AddLeaf(leafHash string) {
	t.leaves = append(t.leaves, leafHash)
	t.rebuild()
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Root returns the current root hash, or "" for an empty tree.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return ""
	}
	return top[0]
}

func (t *Tree) rebuild() {
	if len(t.leaves) == 0 {
		t.levels = nil
		return
	}

	t.levels = [][]string{append([]string(nil), t.leaves...)}
	for len(t.levels[len(t.levels)-1]) > 1 {
		level := t.levels[len(t.levels)-1]
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // duplicate last node on odd levels
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		t.levels = append(t.levels, next)
	}
}

// hashPair hashes the concatenation of two hex node hashes.
func hashPair(left, right string) string {
	h := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(h[:])
}
