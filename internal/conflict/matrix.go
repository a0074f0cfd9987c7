package conflict

import (
	"sort"

	"github.com/grovekit/grove/pkg/models"
)

// PairKey is an unordered task-ID pair, stored sorted so that (a, b)
// and (b, a) resolve to the same entry.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewPairKey builds a PairKey with its components sorted.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// Matrix holds the conflict descriptors for every task pair of one
// analysis pass. It is built once and read-only afterwards, so it is
// safely shared across workers without locking.
type Matrix struct {
	pairs map[PairKey]Descriptor
}

// BuildMatrix runs the detector over all unordered task pairs.
func BuildMatrix(det *Detector, tasks []*models.Task) *Matrix {
	m := &Matrix{pairs: make(map[PairKey]Descriptor)}
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			desc := det.Detect(tasks[i], tasks[j])
			if desc.Conflicted {
				m.pairs[NewPairKey(tasks[i].ID, tasks[j].ID)] = desc
			}
		}
	}
	return m
}

// MatrixFromPairs reconstructs a matrix from persisted pair entries,
// used when resuming a run from a checkpoint.
func MatrixFromPairs(pairs map[PairKey]Descriptor) *Matrix {
	copied := make(map[PairKey]Descriptor, len(pairs))
	for k, v := range pairs {
		copied[k] = v
	}
	return &Matrix{pairs: copied}
}

// Conflicts reports whether the two tasks conflict.
func (m *Matrix) Conflicts(a, b string) bool {
	if a == b {
		return false
	}
	desc, ok := m.pairs[NewPairKey(a, b)]
	return ok && desc.Conflicted
}

// Get returns the descriptor for the pair. Pairs without conflicts
// return a zero descriptor.
func (m *Matrix) Get(a, b string) Descriptor {
	return m.pairs[NewPairKey(a, b)]
}

// Pairs returns a copy of all conflicting pair entries, for persistence.
func (m *Matrix) Pairs() map[PairKey]Descriptor {
	out := make(map[PairKey]Descriptor, len(m.pairs))
	for k, v := range m.pairs {
		out[k] = v
	}
	return out
}

// ConflictingIDs returns the sorted IDs of all tasks that conflict with
// the given task.
func (m *Matrix) ConflictingIDs(taskID string) []string {
	var ids []string
	for key := range m.pairs {
		switch taskID {
		case key.A:
			ids = append(ids, key.B)
		case key.B:
			ids = append(ids, key.A)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of conflicting pairs.
func (m *Matrix) Len() int {
	return len(m.pairs)
}
