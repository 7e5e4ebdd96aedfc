package batch

// Partition splits items into consecutive chunks of at most size elements.
// The last chunk may be shorter. Concatenating the chunks yields items.
// Chunks share the backing array of items but have their capacity capped, so
// appending to a chunk never overwrites its neighbour.
// Partition panics if size < 1.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		panic("batch: chunk size must be >= 1")
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
