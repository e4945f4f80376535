package vectorindex

import (
	"math"
	"sort"

	"github.com/xxxsen/mofadvisor/internal/model"
)

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in dimension or either has zero norm.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// Rank orders by score desc, then most recently ingested, then document id and ordinal.
func Rank(items []model.ScoredEntry) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.IngestedAt != b.Entry.IngestedAt {
			return a.Entry.IngestedAt > b.Entry.IngestedAt
		}
		if a.Entry.DocumentID != b.Entry.DocumentID {
			return a.Entry.DocumentID < b.Entry.DocumentID
		}
		return a.Entry.Ordinal < b.Entry.Ordinal
	})
}

// topK scores every entry against vector and keeps the best k.
type topK struct {
	vector []float32
	k      int
	items  []model.ScoredEntry
}

func newTopK(vector []float32, k int) *topK {
	return &topK{vector: vector, k: k}
}

func (t *topK) add(entry model.IndexEntry) {
	score, ok := Cosine(t.vector, entry.Embedding)
	if !ok {
		return
	}
	t.items = append(t.items, model.ScoredEntry{Entry: entry, Score: score})
	// keep memory bounded on large scans
	if len(t.items) >= 4*t.k+64 {
		t.trim()
	}
}

func (t *topK) trim() {
	Rank(t.items)
	if len(t.items) > t.k {
		t.items = t.items[:t.k]
	}
}

func (t *topK) result() []model.ScoredEntry {
	if t.k <= 0 {
		return nil
	}
	t.trim()
	out := make([]model.ScoredEntry, len(t.items))
	copy(out, t.items)
	return out
}
