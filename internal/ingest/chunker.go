package ingest

import "strings"

const (
	// DefaultChunkWords is the chunk size in words.
	DefaultChunkWords = 200
	// DefaultOverlapWords is how many words consecutive chunks share, so a
	// sentence split across a boundary is still retrievable from one chunk.
	DefaultOverlapWords = 40
)

// Chunk is one piece of a split document.
type Chunk struct {
	Index int
	Text  string
}

// SplitWords splits text into chunks of at most chunkWords words with
// overlapWords words of overlap between consecutive chunks.
func SplitWords(text string, chunkWords, overlapWords int) []Chunk {
	if chunkWords <= 0 {
		chunkWords = DefaultChunkWords
	}
	if overlapWords < 0 || overlapWords >= chunkWords {
		overlapWords = DefaultOverlapWords
		if overlapWords >= chunkWords {
			overlapWords = chunkWords / 2
		}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := chunkWords - overlapWords
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  strings.Join(words[start:end], " "),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
