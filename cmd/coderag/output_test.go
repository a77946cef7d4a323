package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/reranker"
	"github.com/dshills/coderag/pkg/types"
)

func init() {
	color.NoColor = true
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "****cdef", maskKey("sk-1234567890abcdef"))
}

func TestMaskSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.APIKey = "jina_abcdefghijkl"
	cfg.Expansion.APIKey = "sk-proj-zzzzzzzz9999"

	masked := maskSecrets(*cfg)
	assert.Equal(t, "****ijkl", masked.Embedding.APIKey)
	assert.Equal(t, "****9999", masked.Expansion.APIKey)
	assert.Equal(t, "", masked.Reranker.APIKey)
	assert.Equal(t, "jina_abcdefghijkl", cfg.Embedding.APIKey, "original must be untouched")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, "login", nil)
	assert.Equal(t, "No results for \"login\"\n", buf.String())

	buf.Reset()
	printResults(&buf, "login", []types.ContextualResult{{
		RankedResult: types.RankedResult{
			RetrievalResult: types.RetrievalResult{
				Chunk: types.Chunk{
					FilePath:     "auth.py",
					StartLine:    3,
					EndLine:      4,
					ClassName:    "Auth",
					FunctionName: "login",
					Content:      "def login(self):\n    return True",
				},
				Source: types.SourceSemantic,
			},
			FinalScore: 0.5,
		},
		Commit: &types.CommitContext{
			Hash:    "abc1234",
			Author:  "alice",
			Date:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Message: "add login\n\nlong body",
		},
		RelatedFiles:    []string{"session.py"},
		ExpandedQueries: []string{"sign in"},
	}})

	out := buf.String()
	assert.Contains(t, out, "expanded: sign in")
	assert.Contains(t, out, "1. auth.py:3-4 Auth.login")
	assert.Contains(t, out, "commit abc1234 by alice on 2024-03-01: add login\n")
	assert.Contains(t, out, "related: session.py")
	assert.Contains(t, out, "   |     return True")
}

func TestPreviewTruncates(t *testing.T) {
	content := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10"
	out := preview(content)
	assert.Contains(t, out, "   | 8\n")
	assert.NotContains(t, out, "   | 9\n")
	assert.Contains(t, out, "   | ...")
}

func TestPrintExplainedResults(t *testing.T) {
	result := types.ContextualResult{RankedResult: types.RankedResult{
		RetrievalResult: types.RetrievalResult{
			Chunk:  types.Chunk{FilePath: "auth.py", StartLine: 1, EndLine: 2, FunctionName: "login", Content: "def login(): pass"},
			Source: types.SourceSemantic,
		},
	}}

	var buf bytes.Buffer
	printExplainedResults(&buf, "login handler", []explained{
		{ContextualResult: result, Explanation: &reranker.Explanation{
			Score:        0.7,
			TermCoverage: 0.5,
			MatchedTerms: []string{"login"},
			Summary:      "High relevance - matched 1 query terms comprehensively",
		}},
		{ContextualResult: result},
	})

	out := buf.String()
	assert.Contains(t, out, "1. auth.py:1-2 login")
	assert.Contains(t, out, "why: High relevance - matched 1 query terms comprehensively; terms login (50% coverage)")
	assert.Contains(t, out, "2. auth.py:1-2 login")
	assert.Equal(t, 1, strings.Count(out, "why:"))
}

func TestPrintQueries(t *testing.T) {
	var buf bytes.Buffer
	printQueries(&buf, "gpt-4o-mini", []string{"auth", "login flow"})
	assert.Equal(t, "Queries (gpt-4o-mini)\n  auth (original)\n  login flow\n", buf.String())
}

func TestPrintChunks(t *testing.T) {
	var buf bytes.Buffer
	printChunks(&buf, nil)
	assert.Equal(t, "No chunks\n", buf.String())

	c := types.Chunk{
		ID:           "a.py_0",
		Content:      "def f(): pass",
		StartLine:    1,
		EndLine:      1,
		Kind:         types.KindFunction,
		FunctionName: "f",
		Metadata:     map[string]string{types.MetaChunkingMethod: types.MethodStructural, types.MetaComplexity: "1"},
	}
	hash := c.ContentHash()

	buf.Reset()
	printChunks(&buf, []types.Chunk{c})
	out := buf.String()
	assert.Contains(t, out, "a.py_0 1-1 function f")
	assert.Contains(t, out, fmt.Sprintf("structural, complexity 1, sha256 %x", hash[:6]))
}
