package heatmap

// Join combines tiles with their density scores. Records keep the order of
// tiles; tiles without a score are dropped. Join does not modify its inputs.
func Join(tiles []Tile, index DensityIndex) []OutputRecord {
	records := make([]OutputRecord, 0, min(len(tiles), len(index)))
	for _, tile := range tiles {
		score, ok := index.Lookup(tile.ID)
		if !ok {
			continue
		}
		records = append(records, OutputRecord{
			TileID:   tile.ID,
			Density:  score,
			Location: NewPoint(tile.LowerLeft.X, tile.LowerLeft.Y),
		})
	}
	return records
}

// TileIDs returns the ids of tiles in order.
func TileIDs(tiles []Tile) []TileID {
	ids := make([]TileID, len(tiles))
	for i, t := range tiles {
		ids[i] = t.ID
	}
	return ids
}
