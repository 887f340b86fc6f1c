package knowledge

// Chunking parameters for seeded FAQ content.
const (
	chunkSize    = 500
	chunkOverlap = 50
)

// splitChunks splits text into overlapping chunks of at most chunkSize
// characters. Text at or under the chunk size is returned as a single chunk.
func splitChunks(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
