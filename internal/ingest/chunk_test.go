package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortInputSingleChunk(t *testing.T) {
	chunks := ChunkText("a short paragraph", 800, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph", chunks[0])

	assert.Nil(t, ChunkText("   \n  ", 800, 100))
}

func TestChunkTextRespectsSizeAndOverlap(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = "kata"
	}
	text := strings.Join(words, " ")

	chunks := ChunkText(text, 100, 20)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
	}
}

func TestChunkTextNoWordSplit(t *testing.T) {
	text := strings.Repeat("indonesia ", 50)
	for _, chunk := range ChunkText(text, 64, 16) {
		for _, word := range strings.Fields(chunk) {
			assert.Equal(t, "indonesia", word)
		}
	}
}
