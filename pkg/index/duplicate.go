package index

// Tolerance window around a probe signature, in minutes. Device clocks and
// GPS lock delay shift the recorded start and duration by a few minutes while
// the start coordinates stay put.
const (
	StartTolerance    = 2
	DurationTolerance = 3
)

// DuplicateIndex maps signatures of remote activities to their ids. It is
// filled once and only read afterwards, so it carries no lock.
type DuplicateIndex struct {
	entries    map[Signature]int64
	collisions int
}

func NewDuplicateIndex() *DuplicateIndex {
	return &DuplicateIndex{entries: make(map[Signature]int64)}
}

// Insert records id under sig. A later insert for an identical signature
// replaces the earlier id and is counted as a collision.
func (idx *DuplicateIndex) Insert(sig Signature, id int64) {
	if _, exists := idx.entries[sig]; exists {
		idx.collisions++
	}
	idx.entries[sig] = id
}

// FindDuplicate searches the tolerance window around sig at its exact rounded
// coordinates. Start offsets are the outer loop and duration offsets the
// inner one, both ascending; the first hit wins.
func (idx *DuplicateIndex) FindDuplicate(sig Signature) (int64, bool) {
	for dt := int64(-StartTolerance); dt <= StartTolerance; dt++ {
		for dd := int64(-DurationTolerance); dd <= DurationTolerance; dd++ {
			probe := Signature{
				StartMinute:    sig.StartMinute + dt,
				DurationMinute: sig.DurationMinute + dd,
				Lat4:           sig.Lat4,
				Lon4:           sig.Lon4,
			}
			if id, ok := idx.entries[probe]; ok {
				return id, true
			}
		}
	}
	return 0, false
}

func (idx *DuplicateIndex) Len() int {
	return len(idx.entries)
}

func (idx *DuplicateIndex) Collisions() int {
	return idx.collisions
}
