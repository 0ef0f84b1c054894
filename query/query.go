package query

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Question length bounds, applied after whitespace trimming.
const (
	MinQuestionLength = 2
	MaxQuestionLength = 500
)

// MaxTopK is the upper bound for the number of documents to retrieve.
const MaxTopK = 20

// Sentinel errors for request validation.
var (
	ErrQuestionTooShort = errors.New("query: question too short")
	ErrQuestionTooLong  = errors.New("query: question too long")
	ErrTopKOutOfRange   = errors.New("query: top_k out of range")
)

// Request is a single remedy query as received from the boundary layer.
// A nil SourceFilter means "no filter"; an empty non-nil filter means
// "filter matching nothing" and is preserved as distinct.
// TopK zero means "use the configured default". Immutable once received.
type Request struct {
	Question     string   `json:"question"`
	SourceFilter []string `json:"source_filter,omitempty"`
	TopK         int      `json:"top_k,omitempty"`
}

// Validate checks the request bounds. It rejects malformed requests before
// they reach the cache or the upstream pipeline.
func (r Request) Validate() error {
	// Bounds are in characters, not bytes, so multi-byte questions are
	// measured the same as ASCII ones.
	length := utf8.RuneCountInString(strings.TrimSpace(r.Question))
	if length < MinQuestionLength {
		return fmt.Errorf("%w: need at least %d characters", ErrQuestionTooShort, MinQuestionLength)
	}
	if length > MaxQuestionLength {
		return fmt.Errorf("%w: limit is %d characters", ErrQuestionTooLong, MaxQuestionLength)
	}
	if r.TopK < 0 || r.TopK > MaxTopK {
		return fmt.Errorf("%w: got %d, limit is %d", ErrTopKOutOfRange, r.TopK, MaxTopK)
	}
	return nil
}

// Sanitized returns a copy of the request with control characters stripped
// from the question. Whitespace is kept; normalization for cache keying is
// the fingerprint builder's job.
func (r Request) Sanitized() Request {
	r.Question = strings.Map(func(c rune) rune {
		if unicode.IsControl(c) && c != '\n' && c != '\t' {
			return -1
		}
		return c
	}, r.Question)
	return r
}

// Citation points at a passage in a source document that supported an answer.
// Page zero means the source has no page numbering.
type Citation struct {
	Source  string `json:"source"`
	Page    int    `json:"page,omitempty"`
	Excerpt string `json:"excerpt"`
}

// Answer is the result the RAG pipeline produced for a request.
type Answer struct {
	ID             string        `json:"id"`
	Question       string        `json:"question"`
	Answer         string        `json:"answer"`
	Citations      []Citation    `json:"citations"`
	SourcesUsed    []string      `json:"sources_used"`
	ProcessingTime time.Duration `json:"-"`
}

// Clone returns a deep copy of the answer. The cache hands out clones so
// callers can never mutate a stored entry.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	out := *a
	if a.Citations != nil {
		out.Citations = make([]Citation, len(a.Citations))
		copy(out.Citations, a.Citations)
	}
	if a.SourcesUsed != nil {
		out.SourcesUsed = make([]string, len(a.SourcesUsed))
		copy(out.SourcesUsed, a.SourcesUsed)
	}
	return &out
}
