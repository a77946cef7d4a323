package chunker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg, nil, logging.Discard())
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c := newTestChunker(t, Config{})
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, DefaultOverlap, c.overlap)
	assert.NotNil(t, c.registry)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []Config{
		{ChunkSize: 10, Overlap: 10},
		{ChunkSize: 10, Overlap: 20},
		{ChunkSize: -1, Overlap: 0},
		{ChunkSize: 10, Overlap: -1},
	}
	for _, cfg := range tests {
		t.Run(fmt.Sprintf("%d/%d", cfg.ChunkSize, cfg.Overlap), func(t *testing.T) {
			_, err := New(cfg, nil, logging.Discard())
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidConfig))
		})
	}
}

func TestExtract_PythonStructural(t *testing.T) {
	content := `import os

def foo(a):
    if a:
        return 1
    # fall through
    return 2

class Bar:
    """A bar."""
    x = 1

    y = 2
    z = 3
    w = 4
`
	c := newTestChunker(t, Config{})
	chunks := c.Extract("pkg/mod.py", []byte(content), "py")
	require.Len(t, chunks, 2)

	foo := chunks[0]
	assert.Equal(t, "pkg/mod.py_0", foo.ID)
	assert.Equal(t, 3, foo.StartLine)
	assert.Equal(t, 7, foo.EndLine)
	assert.Equal(t, "foo", foo.FunctionName)
	assert.Empty(t, foo.ClassName)
	assert.Equal(t, types.KindFunction, foo.Kind)
	assert.Equal(t, "2", foo.Meta(types.MetaComplexity))
	assert.Equal(t, types.MethodStructural, foo.Meta(types.MetaChunkingMethod))
	assert.True(t, strings.HasPrefix(foo.Content, "def foo(a):"))

	bar := chunks[1]
	assert.Equal(t, "pkg/mod.py_1", bar.ID)
	assert.Equal(t, 9, bar.StartLine)
	assert.Equal(t, 15, bar.EndLine)
	assert.Equal(t, "Bar", bar.ClassName)
	assert.Empty(t, bar.FunctionName)
	assert.Equal(t, "A bar.", bar.Meta(types.MetaDocString))

	for _, ch := range chunks {
		assert.NoError(t, ch.Validate())
	}
}

// The structural range of every chunk reproduces the source lines exactly.
func TestExtract_StructuralRangesMatchSource(t *testing.T) {
	content := `package shop

// Cart holds items
type Cart struct {
	Items []string
}

// Add appends an item
func (c *Cart) Add(item string) {
	for _, it := range c.Items {
		if it == item {
			return
		}
	}
	c.Items = append(c.Items, item)
}
`
	c := newTestChunker(t, Config{})
	chunks := c.Extract("shop/cart.go", []byte(content), "go")
	require.Len(t, chunks, 2)

	lines := strings.Split(content, "\n")
	for _, ch := range chunks {
		require.GreaterOrEqual(t, ch.StartLine, 1)
		require.GreaterOrEqual(t, ch.EndLine, ch.StartLine)
		require.LessOrEqual(t, ch.EndLine, len(lines))
		assert.Equal(t, strings.Join(lines[ch.StartLine-1:ch.EndLine], "\n"), ch.Content)
	}

	add := chunks[1]
	assert.Equal(t, "Add", add.FunctionName)
	assert.Equal(t, "Cart", add.ClassName)
	assert.Equal(t, types.KindMethod, add.Kind)
	assert.Equal(t, "3", add.Meta(types.MetaComplexity))
	assert.Equal(t, "Add appends an item", add.Meta(types.MetaDocString))
}

func TestExtract_PatternFallback(t *testing.T) {
	content := "const x = 1;\n\nasync function login(user) {\n  return user;\n}\n\nfunction logout() {}\n"
	c := newTestChunker(t, Config{})
	chunks := c.Extract("web/auth.js", []byte(content), "js")
	require.Len(t, chunks, 2)

	lines := strings.Split(content, "\n")
	assert.Equal(t, "login", chunks[0].FunctionName)
	assert.Equal(t, 3, chunks[0].StartLine)
	assert.Equal(t, len(lines), chunks[0].EndLine)
	assert.Equal(t, "logout", chunks[1].FunctionName)
	assert.Equal(t, 7, chunks[1].StartLine)
	assert.Equal(t, types.MethodPattern, chunks[1].Meta(types.MetaChunkingMethod))
	assert.Equal(t, "web/auth.js_1", chunks[1].ID)
}

func TestExtract_PatternClassLike(t *testing.T) {
	content := "package app;\n\npublic class UserService {\n}\n"
	c := newTestChunker(t, Config{})
	chunks := c.Extract("App.java", []byte(content), "java")
	require.Len(t, chunks, 1)
	assert.Equal(t, "UserService", chunks[0].ClassName)
	assert.Equal(t, types.KindClass, chunks[0].Kind)
}

func TestExtract_PatternSpanIsClamped(t *testing.T) {
	var b strings.Builder
	b.WriteString("def first():\n")
	for i := 0; i < 80; i++ {
		b.WriteString("  x\n")
	}
	c := newTestChunker(t, Config{})
	chunks := c.Extract("script.rb", []byte(b.String()), "rb")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1+PatternSpanLines, chunks[0].EndLine)
}

func TestExtract_CppSkipsControlFlow(t *testing.T) {
	content := "int main(void) {\n  if (x) {\n  }\n  return (0);\n}\n"
	c := newTestChunker(t, Config{})
	chunks := c.Extract("main.cpp", []byte(content), "cpp")
	require.Len(t, chunks, 1)
	assert.Equal(t, "main", chunks[0].FunctionName)
}

func TestExtract_WindowFallback(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	content := strings.Join(words, " ")

	c := newTestChunker(t, Config{ChunkSize: 10, Overlap: 3})
	chunks := c.Extract("notes.txt", []byte(content), "txt")

	// step 7: windows at 0, 7, 14, 21
	require.Len(t, chunks, 4)
	assert.Equal(t, "notes.txt_0", chunks[0].ID)
	assert.Equal(t, "notes.txt_7", chunks[1].ID)
	assert.Equal(t, "notes.txt_14", chunks[2].ID)
	assert.Equal(t, "notes.txt_21", chunks[3].ID)

	assert.Equal(t, strings.Join(words[0:10], " "), chunks[0].Content)
	assert.Equal(t, strings.Join(words[7:17], " "), chunks[1].Content)
	assert.Equal(t, strings.Join(words[21:25], " "), chunks[3].Content)

	// consecutive windows share exactly overlap tokens
	first := strings.Fields(chunks[0].Content)
	second := strings.Fields(chunks[1].Content)
	assert.Equal(t, first[7:], second[:3])

	for _, ch := range chunks {
		assert.Equal(t, types.MethodSlidingWindow, ch.Meta(types.MetaChunkingMethod))
		assert.Equal(t, types.KindWindow, ch.Kind)
		assert.Equal(t, 1, ch.StartLine)
		assert.Equal(t, 1, ch.EndLine)
	}
}

func TestExtract_WindowLineHeuristic(t *testing.T) {
	words := strings.Fields(strings.Repeat("tok ", 120))
	c := newTestChunker(t, Config{ChunkSize: 100, Overlap: 0})
	chunks := c.Extract("data.txt", []byte(strings.Join(words, " ")), "txt")
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 3, chunks[1].EndLine)
}

func TestExtract_PythonSyntaxErrorUsesWindow(t *testing.T) {
	content := "def broken(a,\n    b\nx = 1\n"
	c := newTestChunker(t, Config{})
	chunks := c.Extract("bad.py", []byte(content), "py")
	require.Len(t, chunks, 1)
	assert.Equal(t, types.MethodSlidingWindow, chunks[0].Meta(types.MetaChunkingMethod))
}

func TestExtract_EmptyContent(t *testing.T) {
	c := newTestChunker(t, Config{})
	assert.Empty(t, c.Extract("empty.txt", nil, "txt"))
	assert.Empty(t, c.Extract("empty.py", []byte("\n\n"), "py"))
}

func TestExtract_Deterministic(t *testing.T) {
	content := []byte("def a():\n    pass\n\ndef b():\n    return 1\n")
	c := newTestChunker(t, Config{})

	first := c.Extract("x.py", content, "py")
	second := c.Extract("x.py", content, "py")
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].StartLine, second[i].StartLine)
		assert.Equal(t, first[i].EndLine, second[i].EndLine)
	}
}

func TestChunkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "util.go")
	require.NoError(t, os.WriteFile(path, []byte("package util\n\nfunc Helper() {}\n"), 0o644))

	c := newTestChunker(t, Config{})
	chunks, err := c.ChunkFile(path, "util.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "util.go_0", chunks[0].ID)
	assert.Equal(t, "go", chunks[0].Language)

	_, err = c.ChunkFile(filepath.Join(dir, "missing.go"), "")
	assert.Error(t, err)
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"return 1", 1},
		{"if x:\n    pass", 2},
		{"for i in x:\n    while y:\n        pass", 3},
		{"try:\n    pass\nexcept ValueError:\n    pass", 3},
		{strings.Repeat("if a:\n", 20), MaxComplexity},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateComplexity(tt.code), tt.code)
	}
}
