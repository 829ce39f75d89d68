// Package contextwin manages token estimation, document chunking and
// relevance-based chunk selection for building bounded model contexts.
package contextwin

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"rlmd/internal/logging"
)

// charsPerToken is the fallback heuristic when no tokenizer is available.
const charsPerToken = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text. Uses the cl100k_base
// tokenizer when its vocabulary is available, otherwise a chars/4 heuristic.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.Context("tokenizer unavailable, using heuristic: %v", err)
			return
		}
		enc = e
	})
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len(text) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// CountTokensBatch estimates the total token count of several texts.
func CountTokensBatch(texts []string) int {
	total := 0
	for _, t := range texts {
		total += CountTokens(t)
	}
	return total
}

// Usage describes estimated context window consumption.
type Usage struct {
	QueryTokens    int
	DocumentTokens int
	TotalTokens    int
	WithinLimit    bool
}

// Chunk is one slice of a document with selection metadata.
type Chunk struct {
	ChunkID    int
	DocumentID int
	Content    string
	TokenCount int
	Score      float64
	Rank       int
}

// Manager splits documents into chunks and selects the most relevant ones
// for a query.
type Manager struct {
	MaxContextTokens int
	ChunkSize        int // characters
	ChunkOverlap     int // characters
}

// NewManager creates a manager with the given context window budget.
func NewManager(maxTokens int) *Manager {
	if maxTokens <= 0 {
		maxTokens = 10_000_000
	}
	return &Manager{
		MaxContextTokens: maxTokens,
		ChunkSize:        100_000,
		ChunkOverlap:     5_000,
	}
}

// EstimateUsage estimates token usage for documents plus query.
func (m *Manager) EstimateUsage(documents []string, query string) Usage {
	q := CountTokens(query)
	d := CountTokensBatch(documents)
	return Usage{
		QueryTokens:    q,
		DocumentTokens: d,
		TotalTokens:    q + d,
		WithinLimit:    q+d <= m.MaxContextTokens,
	}
}

// ChunkDocuments splits documents into paragraph-preserving chunks with
// overlap between consecutive chunks for continuity.
func (m *Manager) ChunkDocuments(documents []string) []Chunk {
	var chunks []Chunk
	chunkID := 0

	for docIdx, doc := range documents {
		paragraphs := strings.Split(doc, "\n\n")
		current := ""

		flush := func() {
			content := strings.TrimSpace(current)
			if content == "" {
				return
			}
			chunks = append(chunks, Chunk{
				ChunkID:    chunkID,
				DocumentID: docIdx,
				Content:    content,
				TokenCount: CountTokens(content),
			})
			chunkID++
		}

		for _, para := range paragraphs {
			if current != "" && len(current)+len(para) > m.ChunkSize {
				flush()
				overlap := ""
				if m.ChunkOverlap > 0 && len(current) > m.ChunkOverlap {
					overlap = current[len(current)-m.ChunkOverlap:]
				}
				current = overlap
			}
			if current != "" {
				current += "\n\n"
			}
			current += para
		}
		flush()
	}

	logging.Context("chunked %d documents into %d chunks", len(documents), len(chunks))
	return chunks
}

var wordRe = regexp.MustCompile(`\b\w+\b`)

// SelectRelevant scores chunks by query term overlap and returns the top
// maxChunks in descending relevance, ranks assigned from 1. maxChunks <= 0
// derives a limit from the context window budget.
func (m *Manager) SelectRelevant(chunks []Chunk, query string, maxChunks int) []Chunk {
	queryTerms := make(map[string]bool)
	for _, w := range wordRe.FindAllString(strings.ToLower(query), -1) {
		queryTerms[w] = true
	}

	scored := make([]Chunk, len(chunks))
	copy(scored, chunks)
	for i := range scored {
		terms := wordRe.FindAllString(strings.ToLower(scored[i].Content), -1)
		matches := 0
		for _, t := range terms {
			if queryTerms[t] {
				matches++
			}
		}
		scored[i].Score = float64(matches) / float64(len(terms)+1)
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})

	if maxChunks <= 0 {
		available := m.MaxContextTokens - CountTokens(query)
		perChunk := 1
		if len(scored) > 0 {
			total := 0
			for _, c := range scored {
				total += c.TokenCount
			}
			perChunk = total/len(scored) + 1
		}
		maxChunks = available / perChunk
		if maxChunks < 1 {
			maxChunks = 1
		}
	}
	if maxChunks > len(scored) {
		maxChunks = len(scored)
	}

	selected := scored[:maxChunks]
	for i := range selected {
		selected[i].Rank = i + 1
	}

	logging.Context("selected %d of %d chunks", len(selected), len(chunks))
	return selected
}

// BuildContext renders selected chunks into a single context string.
func (m *Manager) BuildContext(chunks []Chunk, query string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n%s\n\nContext Documents:\n", query, strings.Repeat("=", 80))
	for _, c := range chunks {
		fmt.Fprintf(&sb, "\n[Chunk %d - Document %d]\n%s\n", c.ChunkID, c.DocumentID, c.Content)
	}
	return sb.String()
}

// Prefix returns the first n documents, each truncated to maxChars. Used by
// the orchestrator to give every sub-task a small fixed document context.
func Prefix(documents []string, n, maxChars int) []string {
	if n > len(documents) {
		n = len(documents)
	}
	out := make([]string, 0, n)
	for _, d := range documents[:n] {
		if len(d) > maxChars {
			d = d[:maxChars]
		}
		out = append(out, d)
	}
	return out
}
