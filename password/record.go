package password

import "time"

// Record is the persisted password state of one subject.
type Record struct {
	SubjectID string
	Hash      string
	ChangedAt time.Time
	// History holds previous hashes, newest first, bounded by the configured depth.
	History []string
	// ExpiresAt is zero when passwords never expire.
	ExpiresAt time.Time
}

// IsExpired reports now > ChangedAt + expiration. Records with a zero
// ExpiresAt never expire.
func (r *Record) IsExpired(now time.Time) bool {
	if r == nil || r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

// Rotate installs newHash as current and pushes the previous hash onto the
// history, keeping at most depth entries. maxAge of zero disables expiry.
func (r *Record) Rotate(newHash string, depth int, maxAge time.Duration, now time.Time) {
	if r.Hash != "" && depth > 0 {
		history := make([]string, 0, depth)
		history = append(history, r.Hash)
		history = append(history, r.History...)
		if len(history) > depth {
			history = history[:depth]
		}
		r.History = history
	} else if depth <= 0 {
		r.History = nil
	}

	r.Hash = newHash
	r.ChangedAt = now
	r.ExpiresAt = time.Time{}
	if maxAge > 0 {
		r.ExpiresAt = now.Add(maxAge)
	}
}

// CheckHistory reports whether newPassword matches the current hash or any
// stored history hash. Every candidate is verified; a malformed entry is
// skipped rather than treated as a match.
func CheckHistory(h Hasher, newPassword string, history []string) bool {
	reused := false
	for _, encoded := range history {
		if encoded == "" {
			continue
		}
		ok, err := h.Verify(newPassword, encoded)
		if err == nil && ok {
			reused = true
		}
	}
	return reused
}
