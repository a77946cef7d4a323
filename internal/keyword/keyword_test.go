package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/coderag/pkg/types"
)

func TestSearchAuthentication(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "auth.py_1", FilePath: "auth.py", Content: "def login(u):\n    return authenticate_user(u) or authenticate_user(None)"},
		{ID: "db.py_2", FilePath: "db.py", Content: "def connect():\n    return open_pool()"},
	}

	results := Search("authentication", chunks, 2)
	require.Len(t, results, 1)
	assert.Equal(t, "auth.py_1", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, types.SourceKeyword, results[0].Source)
}

func TestSearchNameBoost(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "a_0", Content: "token token token"},
		{ID: "b_0", Content: "token", FunctionName: "validate_token"},
		{ID: "c_0", Content: "nothing here", ClassName: "TokenStore"},
	}

	results := Search("token", chunks, 10)
	require.Len(t, results, 3)
	assert.Equal(t, "b_0", results[0].Chunk.ID)
	assert.InDelta(t, 6.0, results[0].Score, 1e-9)
	assert.Equal(t, "c_0", results[1].Chunk.ID)
	assert.InDelta(t, 5.0, results[1].Score, 1e-9)
	assert.Equal(t, "a_0", results[2].Chunk.ID)
	assert.InDelta(t, 3.0, results[2].Score, 1e-9)
}

func TestSearchBothNamesBoost(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "m_0", Content: "pass", FunctionName: "save", ClassName: "SessionSaver"},
	}
	results := Search("save", chunks, 1)
	require.Len(t, results, 1)
	assert.InDelta(t, 10.0, results[0].Score, 1e-9)
}

func TestSearchTiesKeepChunkOrder(t *testing.T) {
	chunks := []types.Chunk{
		{ID: "x_0", Content: "cache"},
		{ID: "x_1", Content: "cache"},
		{ID: "x_2", Content: "cache"},
	}
	results := Search("cache", chunks, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "x_0", results[0].Chunk.ID)
	assert.Equal(t, "x_1", results[1].Chunk.ID)
}

func TestSearchEmpty(t *testing.T) {
	chunks := []types.Chunk{{ID: "x_0", Content: "cache"}}
	assert.Empty(t, Search("", chunks, 5))
	assert.Empty(t, Search("   ", chunks, 5))
	assert.Empty(t, Search("cache", chunks, 0))
	assert.Empty(t, Search("cache", nil, 5))
}

func TestStems(t *testing.T) {
	assert.Equal(t, []string{"authent", "user"}, Stems("authenticate_user"))
	assert.Equal(t, []string{"authent"}, Stems("Authentication"))
	assert.Equal(t, []string{"pars", "config", "file"}, Stems("parseConfigFiles"))
}

func TestRetrieverReuse(t *testing.T) {
	r := NewRetriever([]types.Chunk{
		{ID: "a_0", Content: "connect database"},
		{ID: "b_0", Content: "render template"},
	})
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "a_0", r.Search("databases", 1)[0].Chunk.ID)
	assert.Equal(t, "b_0", r.Search("templates rendering", 1)[0].Chunk.ID)
}
