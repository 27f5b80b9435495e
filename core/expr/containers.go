package expr

import "github.com/mailscore/core/pkg/fingerprint"

// OptionList is an insertion-ordered, de-duplicated, capacity-bounded list
// of option strings (spec §3 Symbol result: "Options are de-duplicated
// preserving insertion order up to a cap, typically 255 per symbol").
// De-duplication is by 64-bit fingerprint rather than full string
// comparison, so repeated inserts are O(1) amortized.
type OptionList struct {
	cap     int
	items   []string
	seen    map[fingerprint.Key64]struct{}
	dropped int
}

// NewOptionList creates an OptionList bounded to capacity cap. A cap <= 0
// means unbounded.
func NewOptionList(cap int) *OptionList {
	return &OptionList{cap: cap, seen: make(map[fingerprint.Key64]struct{})}
}

// Add inserts opt if it is not already present and the cap has not been
// reached; returns true if it was actually added.
func (l *OptionList) Add(opt string) bool {
	key := fingerprint.OfString(opt)
	if _, ok := l.seen[key]; ok {
		return false
	}
	if l.cap > 0 && len(l.items) >= l.cap {
		l.dropped++
		return false
	}
	l.seen[key] = struct{}{}
	l.items = append(l.items, opt)
	return true
}

// Items returns the ordered, de-duplicated option strings.
func (l *OptionList) Items() []string {
	return l.items
}

// Dropped returns the number of options rejected for exceeding the cap.
func (l *OptionList) Dropped() int {
	return l.dropped
}

// Len reports the number of stored options.
func (l *OptionList) Len() int {
	return len(l.items)
}

// Bitset is a small fixed-size bit vector used by the scheduler to track
// which items in a phase have completed (spec §4.1.3: "a bitset of
// 'completed' items").
type Bitset struct {
	bits []uint64
}

// NewBitset creates a Bitset able to address indices [0, n).
func NewBitset(n int) *Bitset {
	return &Bitset{bits: make([]uint64, (n+63)/64)}
}

// Set marks index i as set.
func (b *Bitset) Set(i int) {
	b.bits[i/64] |= 1 << uint(i%64)
}

// IsSet reports whether index i is set.
func (b *Bitset) IsSet(i int) bool {
	return b.bits[i/64]&(1<<uint(i%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, word := range b.bits {
		for word != 0 {
			word &= word - 1
			n++
		}
	}
	return n
}
