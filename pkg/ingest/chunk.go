package ingest

import "iter"

// Chunks returns a lazy, restartable sequence of overlapping passages of
// text, keyed by chunk index. Each chunk after the first begins overlap
// runes before the previous chunk's end, so adjacent chunks share context.
// Text shorter than size yields exactly one chunk; empty text yields none.
// Chunks are not trimmed: the last overlap runes of a chunk are exactly the
// first overlap runes of the next one, except at the final boundary.
func Chunks(text string, size, overlap int) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		if size <= 0 {
			return
		}
		runes := []rune(text)
		if len(runes) == 0 {
			return
		}
		step := size - overlap
		if step <= 0 {
			step = size
		}
		index := 0
		for start := 0; start < len(runes); start += step {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}
			if !yield(index, string(runes[start:end])) {
				return
			}
			index++
			if end == len(runes) {
				return
			}
		}
	}
}

// ChunkAll materializes Chunks into a slice.
func ChunkAll(text string, size, overlap int) []string {
	var out []string
	for _, chunk := range Chunks(text, size, overlap) {
		out = append(out, chunk)
	}
	return out
}
