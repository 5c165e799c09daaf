// Package merkle builds binary SHA-256 hash trees over ordered leaf
// sequences and exposes their root hash. It is used to summarise the full
// settlement ledger in a single auditable value.
//
// Construction is an iterative, level-by-level fold: leaves are hashed, then
// adjacent pairs are concatenated (as hex strings) and rehashed until one
// node remains. A level with an odd number of nodes duplicates its last node
// before pairing, keeping every level aligned; for an exact power-of-two
// leaf count this reduces to the canonical perfect binary tree.
package merkle

import "github.com/vaultline/vaultline/internal/seal"

// EmptyRoot is the sentinel returned for a tree built over no leaves.
// It is a literal, never a hash.
const EmptyRoot = "Empty Tree"

// Tree is an immutable Merkle tree over an ordered leaf sequence.
type Tree struct {
	leaves []string
	root   string
}

// New builds a tree over the given leaves. The leaf slice is copied; the
// tree does not observe later mutations of the caller's slice.
func New(leaves []string) *Tree {
	t := &Tree{leaves: append([]string(nil), leaves...)}
	t.root = Root(t.leaves)
	return t
}

// Root returns the root hash of the leaf sequence, or EmptyRoot when the
// sequence is empty. The result depends only on the ordered contents of
// leaves; permuting them changes the root.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}

	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = seal.Hash(leaf)
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			next = append(next, seal.Hash(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}

// Root returns the tree's root hash.
func (t *Tree) Root() string { return t.root }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.leaves) }

// Matches rebuilds a tree over the candidate leaf sequence and reports
// whether its root equals this tree's root. Used for audit: a ledger whose
// recomputed root matches the published root is intact.
func (t *Tree) Matches(leaves []string) bool {
	return t.root == Root(leaves)
}
