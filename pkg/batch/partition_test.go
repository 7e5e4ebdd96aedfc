package batch

import (
	"fmt"
	"reflect"
	"testing"
)

func TestPartition_Properties(t *testing.T) {
	for n := 0; n <= 23; n++ {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		for k := 1; k <= 25; k++ {
			t.Run(fmt.Sprintf("n=%d/k=%d", n, k), func(t *testing.T) {
				chunks := Partition(items, k)

				wantChunks := (n + k - 1) / k
				if len(chunks) != wantChunks {
					t.Fatalf("got %d chunks, want %d", len(chunks), wantChunks)
				}

				var joined []int
				for i, c := range chunks {
					if i < len(chunks)-1 && len(c) != k {
						t.Errorf("chunk %d has %d items, want %d", i, len(c), k)
					}
					if len(c) == 0 || len(c) > k {
						t.Errorf("chunk %d has %d items, want 1..%d", i, len(c), k)
					}
					joined = append(joined, c...)
				}

				if n > 0 && !reflect.DeepEqual(joined, items) {
					t.Errorf("concatenated chunks = %v, want %v", joined, items)
				}
			})
		}
	}
}

func TestPartition_250By100(t *testing.T) {
	items := make([]string, 250)
	for i := range items {
		items[i] = fmt.Sprintf("tile-%d", i)
	}

	chunks := Partition(items, 100)

	sizes := make([]int, len(chunks))
	for i, c := range chunks {
		sizes[i] = len(c)
	}
	if !reflect.DeepEqual(sizes, []int{100, 100, 50}) {
		t.Errorf("chunk sizes = %v, want [100 100 50]", sizes)
	}
	if chunks[1][0] != "tile-100" || chunks[2][49] != "tile-249" {
		t.Errorf("chunk boundaries wrong: %s, %s", chunks[1][0], chunks[2][49])
	}
}

func TestPartition_Restartable(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	first := Partition(items, 2)
	second := Partition(items, 2)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Partition() not deterministic: %v vs %v", first, second)
	}
}

func TestPartition_AppendDoesNotClobber(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Partition(items, 2)

	_ = append(chunks[0], 99)

	if items[2] != 3 || chunks[1][0] != 3 {
		t.Errorf("append to chunk 0 overwrote chunk 1: items=%v", items)
	}
}

func TestPartition_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Partition(size=%d) did not panic", size)
				}
			}()
			Partition([]int{1}, size)
		})
	}
}
