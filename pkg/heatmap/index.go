package heatmap

// DensityIndex maps tile ids to their density score for a single run.
type DensityIndex map[TileID]float64

// NewDensityIndex returns an empty index sized for n entries.
func NewDensityIndex(n int) DensityIndex {
	return make(DensityIndex, n)
}

// Merge adds scores to the index. A later score for the same tile replaces
// the earlier one.
func (idx DensityIndex) Merge(scores []DensityScore) {
	for _, s := range scores {
		idx[s.TileID] = s.Score
	}
}

// Lookup returns the score for a tile and whether it was present.
func (idx DensityIndex) Lookup(id TileID) (float64, bool) {
	score, ok := idx[id]
	return score, ok
}

// Len returns the number of scored tiles.
func (idx DensityIndex) Len() int {
	return len(idx)
}
