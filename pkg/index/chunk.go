package index

import (
	"strings"

	"github.com/graphmill/graphmill/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultEncoder   = "o200k_base"
	defaultMaxTokens = 600
)

// TokenChunker splits document text into sentence-aligned, token-bounded
// chunks. It backs the AddText convenience path; callers with their own
// chunking feed AddChunks directly.
type TokenChunker struct {
	encoder   string
	maxTokens int
}

// TokenChunkerParams configures a TokenChunker. Zero values fall back to the
// o200k_base encoding with 600-token chunks.
type TokenChunkerParams struct {
	Encoder   string
	MaxTokens int
}

// NewTokenChunker creates a TokenChunker.
func NewTokenChunker(params TokenChunkerParams) *TokenChunker {
	encoder := params.Encoder
	if encoder == "" {
		encoder = defaultEncoder
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &TokenChunker{
		encoder:   encoder,
		maxTokens: maxTokens,
	}
}

// Chunk splits text into chunks of at most maxTokens tokens, never breaking
// inside a sentence. A single sentence longer than maxTokens becomes a chunk
// of its own and exceeds the limit. Each chunk gets a fresh nanoid and points
// back at the document.
func (c *TokenChunker) Chunk(documentID, text string) ([]common.Chunk, error) {
	enc, err := tiktoken.GetEncoding(c.encoder)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []common.Chunk
	var current []string
	currentTokens := 0

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		chunks = append(chunks, common.Chunk{
			ID:         id,
			DocumentID: documentID,
			Text:       strings.Join(current, " "),
		})
		current = nil
		currentTokens = 0
		return nil
	}

	for _, sentence := range sentences {
		tokens := len(enc.Encode(sentence, nil, nil)) + 1
		if currentTokens+tokens > c.maxTokens && len(current) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, sentence)
		currentTokens += tokens
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return chunks, nil
}

// splitIntoSentences breaks text into sentences, treating blank lines as hard
// boundaries and joining wrapped lines of the same paragraph.
func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder

	flushCurrent := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flushCurrent()
			continue
		}

		for _, sentence := range splitLineIntoSentences(trimmed) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)

			if endsSentence(sentence) {
				flushCurrent()
			}
		}
	}
	flushCurrent()

	return sentences
}

func endsSentence(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), `"')]}`)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}

		// "1. First item" style numeric listings stay in one sentence.
		if i > 0 && line[i-1] >= '0' && line[i-1] <= '9' && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
			line[j] == ']' || line[j] == '}') {
			current.WriteByte(line[j])
			j++
		}

		sentence := strings.TrimSpace(current.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}
