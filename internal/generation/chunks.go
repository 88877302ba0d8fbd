package generation

import "strings"

// DefaultChunkTargetWords is how many words one streamed chunk aims for.
// Roughly a minute of narration at typical reading speed.
const DefaultChunkTargetWords = 150

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// SplitChunks breaks text into ordered chunks of roughly targetWords each,
// never splitting inside a sentence. Every chunk is independently
// synthesizable and concatenating the chunks in order reproduces the text's
// words. A single sentence longer than the target becomes its own chunk.
func SplitChunks(text string, targetWords int) []string {
	if targetWords <= 0 {
		targetWords = DefaultChunkTargetWords
	}

	sentences := splitSentences(text)
	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			currentWords = 0
		}
	}

	for _, sentence := range sentences {
		words := len(strings.Fields(sentence))
		if words == 0 {
			continue
		}
		if currentWords > 0 && currentWords+words > targetWords {
			flush()
		}
		current = append(current, sentence)
		currentWords += words
	}
	flush()

	return chunks
}

// splitSentences splits on sentence-ending punctuation followed by
// whitespace, and on paragraph breaks. Good enough for chunk boundaries;
// it does not need to be linguistically perfect.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				emit()
			}
		} else if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			emit()
		}
	}
	emit()

	return sentences
}
