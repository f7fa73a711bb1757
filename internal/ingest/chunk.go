package ingest

import "strings"

// ChunkText splits text into word-boundary chunks of at most size
// characters, each chunk sharing roughly overlap trailing characters with
// its predecessor so a fact straddling a boundary survives in one piece.
func ChunkText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	words := strings.Fields(text)
	var chunks []string
	var current []string
	currentLen := 0
	for _, word := range words {
		wordLen := len(word)
		if currentLen > 0 && currentLen+1+wordLen > size {
			chunks = append(chunks, strings.Join(current, " "))
			current = tailWords(current, overlap)
			currentLen = joinedLen(current)
		}
		current = append(current, word)
		if currentLen == 0 {
			currentLen = wordLen
		} else {
			currentLen += 1 + wordLen
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// tailWords returns the suffix of words whose joined length stays within
// budget characters.
func tailWords(words []string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		add := len(words[i])
		if total > 0 {
			add++
		}
		if total+add > budget {
			break
		}
		total += add
		start = i
	}
	return append([]string(nil), words[start:]...)
}

func joinedLen(words []string) int {
	total := 0
	for i, w := range words {
		if i > 0 {
			total++
		}
		total += len(w)
	}
	return total
}
