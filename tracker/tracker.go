package tracker

import (
	iface "CardDetServer/interface"
	"cmp"
	"slices"

	"github.com/pkg/errors"
)

// Config holds the tracker policy constants. They are fixed per stream; a
// Tracker never changes them between frames.
type Config struct {
	// Minimum Similarity for a detection to count as a re-observation. Default 0.65
	SimilarityThreshold float64 `yaml:"similarityThreshold" json:"similarityThreshold"`
	// Confidence at which an entry is confirmed. Default 3
	PromotionThreshold float64 `yaml:"promotionThreshold" json:"promotionThreshold"`
	// Confidence lost per frame without a match. Default 0.75
	DecayStep float64 `yaml:"decayStep" json:"decayStep"`
	// Decay never takes confidence below this value. Default 1.0
	ConfidenceFloor float64 `yaml:"confidenceFloor" json:"confidenceFloor"`
	// Entries unmatched for more than EvictAfter consecutive frames are removed.
	// Zero keeps entries forever. Default 150
	EvictAfter int `yaml:"evictAfter" json:"evictAfter"`
	// When true an entry that falls below PromotionThreshold and climbs back is
	// reported as newly confirmed again. When false a fingerprint is reported
	// once for as long as its entry lives; an evicted entry starts over.
	// Default true
	ReemitOnReconfirm bool `yaml:"reemitOnReconfirm" json:"reemitOnReconfirm"`
}

var BaseConfig = Config{
	SimilarityThreshold: 0.65,
	PromotionThreshold:  3,
	DecayStep:           0.75,
	ConfidenceFloor:     1.0,
	EvictAfter:          150,
	ReemitOnReconfirm:   true,
}

// Validate rejects policies the update algorithm cannot honour.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return errors.Errorf("similarityThreshold must be within [0, 1], got %v", c.SimilarityThreshold)
	}
	if c.PromotionThreshold <= 0 {
		return errors.Errorf("promotionThreshold must be positive, got %v", c.PromotionThreshold)
	}
	if c.DecayStep <= 0 {
		return errors.Errorf("decayStep must be positive, got %v", c.DecayStep)
	}
	if c.ConfidenceFloor < 0 {
		return errors.Errorf("confidenceFloor must not be negative, got %v", c.ConfidenceFloor)
	}
	if c.ConfidenceFloor >= c.PromotionThreshold {
		return errors.Errorf("confidenceFloor %v must be below promotionThreshold %v", c.ConfidenceFloor, c.PromotionThreshold)
	}
	if c.EvictAfter < 0 {
		return errors.Errorf("evictAfter must not be negative, got %d", c.EvictAfter)
	}
	return nil
}

// Detection is one fingerprinted candidate region of the current frame.
type Detection struct {
	Fingerprint string
	Region      iface.Region
}

// Entry is a tracked fingerprint.
type Entry struct {
	Fingerprint string
	Confidence  float64
	LastRegion  iface.Region
	// consecutive frames without a match
	NoMatch int
	seq     uint64
}

// Confirmation is an entry that became confirmed in the current frame.
type Confirmation struct {
	Fingerprint string
	Confidence  float64
	Region      iface.Region
}

// Tracker turns per-frame fingerprints into a stable set of confirmed
// identities. A Tracker belongs to exactly one stream and is not safe for
// concurrent use; frames must be fed to Update one at a time.
type Tracker struct {
	Config
	entries map[string]*Entry
	// confirmed set reported by the previous Update
	confirmed map[string]struct{}
	// fingerprints already reported, kept only when ReemitOnReconfirm is false
	// and dropped together with their evicted entry
	reported map[string]struct{}
	nextSeq  uint64
	frameID  uint64
	dropped  uint64
}

func New(config Config) *Tracker {
	return &Tracker{
		Config:    config,
		entries:   make(map[string]*Entry),
		confirmed: make(map[string]struct{}),
		reported:  make(map[string]struct{}),
	}
}

// NewDefault creates a Tracker with BaseConfig.
func NewDefault() *Tracker {
	return New(BaseConfig)
}

// Update feeds one frame's detections and returns the entries that became
// confirmed in this frame, in scan order. Entries confirmed in the previous
// frame are not returned again.
func (t *Tracker) Update(detections []Detection) []Confirmation {
	t.frameID++
	// The scan order of unmatched entries cannot change within a frame: only
	// matched or created entries change confidence, and those are excluded.
	order := t.ordered()
	matched := make(map[string]struct{}, len(detections))

	// Exact re-observations claim their own entry before any fuzzy scan, so a
	// near duplicate listed first cannot take it.
	rest := make([]Detection, 0, len(detections))
	for _, det := range detections {
		entry, ok := t.entries[det.Fingerprint]
		if !ok {
			rest = append(rest, det)
			continue
		}
		if _, dup := matched[det.Fingerprint]; dup {
			t.dropped++
			continue
		}
		t.observe(entry, det, matched)
	}

	for _, det := range rest {
		if _, taken := t.entries[det.Fingerprint]; taken {
			// identical key created earlier in this frame; detections never merge
			t.dropped++
			continue
		}
		if entry := t.match(order, det.Fingerprint, matched); entry != nil {
			t.observe(entry, det, matched)
			continue
		}
		t.entries[det.Fingerprint] = &Entry{
			Fingerprint: det.Fingerprint,
			Confidence:  1,
			LastRegion:  det.Region,
			seq:         t.nextSeq,
		}
		t.nextSeq++
		matched[det.Fingerprint] = struct{}{}
	}

	for key, entry := range t.entries {
		if _, ok := matched[key]; ok {
			continue
		}
		entry.Confidence = max(t.ConfidenceFloor, entry.Confidence-t.DecayStep)
		entry.NoMatch++
		if t.EvictAfter > 0 && entry.NoMatch > t.EvictAfter {
			delete(t.entries, key)
			delete(t.reported, key)
		}
	}

	current := make(map[string]struct{})
	var fresh []Confirmation
	for _, entry := range t.ordered() {
		if entry.Confidence < t.PromotionThreshold {
			continue
		}
		current[entry.Fingerprint] = struct{}{}
		if _, ok := t.confirmed[entry.Fingerprint]; ok {
			continue
		}
		if !t.ReemitOnReconfirm {
			if _, ok := t.reported[entry.Fingerprint]; ok {
				continue
			}
			t.reported[entry.Fingerprint] = struct{}{}
		}
		fresh = append(fresh, Confirmation{
			Fingerprint: entry.Fingerprint,
			Confidence:  entry.Confidence,
			Region:      entry.LastRegion,
		})
	}
	t.confirmed = current
	return fresh
}

func (t *Tracker) observe(entry *Entry, det Detection, matched map[string]struct{}) {
	entry.Confidence++
	entry.LastRegion = det.Region
	entry.NoMatch = 0
	matched[entry.Fingerprint] = struct{}{}
}

// match returns the first entry in scan order that is not yet matched in this
// frame and is similar enough to fingerprint.
func (t *Tracker) match(order []*Entry, fingerprint string, matched map[string]struct{}) *Entry {
	for _, entry := range order {
		if _, ok := matched[entry.Fingerprint]; ok {
			continue
		}
		if Similarity(fingerprint, entry.Fingerprint) >= t.SimilarityThreshold {
			return entry
		}
	}
	return nil
}

// ordered returns entries by descending confidence, oldest first on ties.
func (t *Tracker) ordered() []*Entry {
	order := make([]*Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		order = append(order, entry)
	}
	slices.SortFunc(order, func(a, b *Entry) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return order
}

// Entries returns a copy of all entries in scan order.
func (t *Tracker) Entries() []Entry {
	order := t.ordered()
	out := make([]Entry, len(order))
	for i, entry := range order {
		out[i] = *entry
	}
	return out
}

// Lookup returns a copy of the entry stored under fingerprint.
func (t *Tracker) Lookup(fingerprint string) (Entry, bool) {
	entry, ok := t.entries[fingerprint]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Confirmed returns the fingerprints confirmed by the last Update, in scan order.
func (t *Tracker) Confirmed() []string {
	out := make([]string, 0, len(t.confirmed))
	for _, entry := range t.ordered() {
		if _, ok := t.confirmed[entry.Fingerprint]; ok {
			out = append(out, entry.Fingerprint)
		}
	}
	return out
}

// IsConfirmed reports whether fingerprint was confirmed by the last Update.
func (t *Tracker) IsConfirmed(fingerprint string) bool {
	_, ok := t.confirmed[fingerprint]
	return ok
}

// Snapshot returns the fingerprint to confidence map.
func (t *Tracker) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.entries))
	for key, entry := range t.entries {
		out[key] = entry.Confidence
	}
	return out
}

func (t *Tracker) Len() int { return len(t.entries) }

// Frames returns the number of Update calls so far.
func (t *Tracker) Frames() uint64 { return t.frameID }

// Dropped returns how many detections were discarded because their exact
// fingerprint was already claimed earlier in the same frame.
func (t *Tracker) Dropped() uint64 { return t.dropped }
