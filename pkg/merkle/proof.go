package merkle

// Side marks which side of the current node a proof sibling sits on.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	SiblingHash string `json:"sibling_hash"`
	Side        Side   `json:"side"`
}

// Proof returns the inclusion proof for the leaf at index i: the ordered list
// of sibling hashes encountered walking from the leaf to the root. An empty
// proof is returned for an out-of-range index or a single-leaf tree.
func (t *Tree) Proof(i int) []ProofStep {
	if i < 0 || i >= len(t.leaves) {
		return nil
	}

	var proof []ProofStep
	index := i
	for _, level := range t.levels[:len(t.levels)-1] {
		var sibling int
		var side Side
		if index%2 == 0 {
			sibling = index + 1
			side = SideRight
		} else {
			sibling = index - 1
			side = SideLeft
		}
		if sibling < len(level) {
			proof = append(proof, ProofStep{SiblingHash: level[sibling], Side: side})
		} else {
			// odd level: the node was paired with a duplicate of itself
			proof = append(proof, ProofStep{SiblingHash: level[index], Side: SideRight})
		}
		index /= 2
	}
	return proof
}

// VerifyProof recomputes the root from a claimed leaf hash and proof and
// compares it to the expected root.
func VerifyProof(leafHash string, proof []ProofStep, root string) bool {
	current := leafHash
	for _, step := range proof {
		if step.Side == SideRight {
			current = hashPair(current, step.SiblingHash)
		} else {
			current = hashPair(step.SiblingHash, current)
		}
	}
	return current == root
}
