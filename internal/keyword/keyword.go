// Package keyword implements lexical retrieval over chunks with stemmed term
// frequencies and a boost for symbol-name matches.
package keyword

import (
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/pkg/types"
)

// NameBoost is added once for a function-name match and once for a class-name match
const NameBoost = 5.0

type document struct {
	chunk     types.Chunk
	terms     map[string]int
	funcStems map[string]bool
	classStem map[string]bool
}

// Retriever holds pre-tokenized chunks
type Retriever struct {
	docs []document
}

// NewRetriever stems every chunk once so repeated searches only stem the query
func NewRetriever(chunks []types.Chunk) *Retriever {
	r := &Retriever{docs: make([]document, len(chunks))}
	for i, ch := range chunks {
		terms := make(map[string]int)
		for _, s := range Stems(ch.Content) {
			terms[s]++
		}
		r.docs[i] = document{
			chunk:     ch,
			terms:     terms,
			funcStems: stemSet(ch.FunctionName),
			classStem: stemSet(ch.ClassName),
		}
	}
	return r
}

// Len returns the number of searchable chunks
func (r *Retriever) Len() int {
	return len(r.docs)
}

// Search is a one-shot keyword search over chunks
func Search(query string, chunks []types.Chunk, k int) []types.RetrievalResult {
	return NewRetriever(chunks).Search(query, k)
}

// Search scores each chunk by the summed frequency of the query's stems in its
// content, plus NameBoost per matching symbol name. Zero scores are dropped;
// the rest are sorted by score descending with ties in chunk order.
func (r *Retriever) Search(query string, k int) []types.RetrievalResult {
	if k <= 0 {
		return []types.RetrievalResult{}
	}

	rawTerms := strings.Fields(strings.ToLower(query))
	stems := Stems(query)
	if len(stems) == 0 {
		return []types.RetrievalResult{}
	}

	results := make([]types.RetrievalResult, 0)
	for _, doc := range r.docs {
		score := 0.0
		for _, s := range stems {
			score += float64(doc.terms[s])
		}
		if nameMatches(doc.chunk.FunctionName, doc.funcStems, stems, rawTerms) {
			score += NameBoost
		}
		if nameMatches(doc.chunk.ClassName, doc.classStem, stems, rawTerms) {
			score += NameBoost
		}
		if score > 0 {
			results = append(results, types.RetrievalResult{
				Chunk:  doc.chunk,
				Score:  score,
				Source: types.SourceKeyword,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// nameMatches accepts either a stem hit on the identifier's parts or a raw
// substring hit on the whole name
func nameMatches(name string, nameStems map[string]bool, stems, rawTerms []string) bool {
	if name == "" {
		return false
	}
	for _, s := range stems {
		if nameStems[s] {
			return true
		}
	}
	lower := strings.ToLower(name)
	for _, t := range rawTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Stems tokenizes text on non-alphanumerics and identifier case boundaries,
// then applies the Porter2 english stemmer to each token
func Stems(text string) []string {
	tokens := embedder.Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, english.Stem(tok, false))
	}
	return out
}

func stemSet(name string) map[string]bool {
	if name == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, s := range Stems(name) {
		set[s] = true
	}
	return set
}
