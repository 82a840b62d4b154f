package progress

// Signal classifies one observation.
type Signal string

const (
	Progressing Signal = "progressing"
	Stagnant    Signal = "stagnant"
)

// Tracker holds the last N fingerprint digests. One unchanged iteration is
// not proof of stagnation, but a new digest identical to every entry of a
// full window is decisive.
type Tracker struct {
	limit  int
	window []string
}

// NewTracker creates a tracker with a window of limit digests. Seed is the
// pre-run baseline digest; seeding it means an agent that never touches
// the workspace stagnates after limit iterations, not limit+1.
func NewTracker(limit int, seed string) *Tracker {
	t := &Tracker{limit: limit}
	if seed != "" {
		t.insert(seed)
	}
	return t
}

// Observe compares digest against the window. If the window is full and
// digest matches every entry the signal is Stagnant and the window is left
// untouched; otherwise digest is inserted (evicting the oldest entry when
// full) and the signal is Progressing.
func (t *Tracker) Observe(digest string) Signal {
	if len(t.window) == t.limit && t.limit > 0 && t.allEqual(digest) {
		return Stagnant
	}
	t.insert(digest)
	return Progressing
}

func (t *Tracker) allEqual(digest string) bool {
	for _, d := range t.window {
		if d != digest {
			return false
		}
	}
	return true
}

func (t *Tracker) insert(digest string) {
	t.window = append(t.window, digest)
	if t.limit > 0 && len(t.window) > t.limit {
		t.window = t.window[1:]
	}
}
