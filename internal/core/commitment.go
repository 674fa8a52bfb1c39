package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// ComputeDiffCommitment derives the ephemeral, proposal-level commitment a
// batcher hands back from get_proposal_content/send_proposal_content — a
// content hash of the diff itself, available before the diff is ever
// written to storage. Entries are hashed in sorted key order. This is
// distinct from a store's own persisted root
// (see internal/storage.SequencerStore.StateDiffCommitment), which only
// exists once a proposal has actually been committed.
func ComputeDiffCommitment(diff *ThinStateDiff) string {
	h := sha256.New()
	flat := diff.Flatten()
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := flat[key]
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write(value)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
