package ingest

import (
	"strings"
	"testing"
)

func TestChunkAllShortText(t *testing.T) {
	chunks := ChunkAll("short text", 100, 20)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "short text" {
		t.Fatalf("unexpected chunk: %q", chunks[0])
	}
}

func TestChunkAllEmptyText(t *testing.T) {
	if chunks := ChunkAll("", 100, 20); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestChunkDeterminism(t *testing.T) {
	text := strings.Repeat("abcdefghij", 50)
	first := ChunkAll(text, 120, 30)
	second := ChunkAll(text, 120, 30)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestChunkAdjacencyOverlap(t *testing.T) {
	text := strings.Repeat("0123456789", 40)
	const size, overlap = 100, 25
	chunks := ChunkAll(text, size, overlap)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 0; i < len(chunks)-1; i++ {
		tail := chunks[i][len(chunks[i])-overlap:]
		head := chunks[i+1][:overlap]
		if tail != head {
			t.Fatalf("chunks %d/%d do not overlap: tail=%q head=%q", i, i+1, tail, head)
		}
	}
}

func TestChunkCoversAllText(t *testing.T) {
	text := strings.Repeat("x", 1037)
	chunks := ChunkAll(text, 100, 20)
	step := 100 - 20
	total := 0
	for i, chunk := range chunks {
		if i < len(chunks)-1 && len(chunk) != 100 {
			t.Fatalf("chunk %d has length %d, want 100", i, len(chunk))
		}
		total = i*step + len(chunk)
	}
	if total != len(text) {
		t.Fatalf("chunks do not cover the text: covered %d of %d", total, len(text))
	}
}

func TestChunksSequenceIsRestartable(t *testing.T) {
	text := strings.Repeat("abc ", 100)
	seq := Chunks(text, 50, 10)
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if first, second := count(), count(); first != second || first == 0 {
		t.Fatalf("sequence not restartable: first=%d second=%d", first, second)
	}
	// early break must not panic or continue yielding
	for i := range seq {
		if i == 1 {
			break
		}
	}
}

func TestChunkOverlapAtLeastSizeFallsBackToDisjoint(t *testing.T) {
	text := strings.Repeat("y", 30)
	chunks := ChunkAll(text, 10, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 disjoint chunks, got %d", len(chunks))
	}
}
