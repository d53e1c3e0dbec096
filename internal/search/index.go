// Package search ranks archived submissions against a free-text query.
//
// Each submission is flattened to its field names and values and tokenized
// into a lowercase word set. Scoring is Jaccard similarity between the query
// token set and the document token set: score = |Q ∩ D| / |Q ∪ D|. Ties are
// broken by recency, then by id, so results are deterministic.
//
// An Index is immutable after construction and safe for concurrent use.
package search

import (
	"regexp"
	"sort"
	"strings"

	"github.com/formrelay/formrelay/internal/domain"
)

// Result is one ranked submission.
type Result struct {
	Submission domain.Submission
	Score      float64
}

// Option configures an Index.
type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	fields    map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{}
}

// WithStopwords drops the given words from both queries and documents.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithFields restricts indexing to the named submission fields. Field names
// themselves are not indexed when a restriction is set.
func WithFields(names ...string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(names))
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				m[n] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.fields = m
		}
	}
}

// WithMaxDocs caps how many submissions are indexed.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	sub    domain.Submission
	tokens map[string]struct{}
}

// Index is a read-only token index over a set of submissions.
type Index struct {
	cfg  config
	docs []doc
}

// New indexes subs. Submissions with no indexable text are skipped.
func New(subs []domain.Submission, opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(subs))
	for _, s := range subs {
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
		toks := tokenize(flatten(s.Data, cfg.fields), cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{sub: s, tokens: toks})
	}
	return &Index{cfg: cfg, docs: docs}
}

// Len reports the number of indexed submissions.
func (i *Index) Len() int { return len(i.docs) }

// TopK returns up to k submissions sharing at least one token with q, best
// first. k <= 0 returns every match.
func (i *Index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	out := make([]Result, 0, len(i.docs))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + len(d.tokens) - over)
		out = append(out, Result{Submission: d.sub, Score: float64(over) / union})
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		ta, tb := out[a].Submission.SubmittedAt, out[b].Submission.SubmittedAt
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return out[a].Submission.ID > out[b].Submission.ID
	})

	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// Submissions returns the ranked submissions without scores.
func Submissions(rs []Result) []domain.Submission {
	out := make([]domain.Submission, len(rs))
	for i, r := range rs {
		out[i] = r.Submission
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func flatten(fs domain.Fields, only map[string]struct{}) string {
	var b strings.Builder
	for _, f := range fs {
		if only != nil {
			if _, ok := only[f.Name]; !ok {
				continue
			}
		} else {
			b.WriteString(f.Name)
			b.WriteByte(' ')
		}
		b.WriteString(f.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
