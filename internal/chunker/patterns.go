package chunker

import (
	"regexp"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// definitionPattern detects a definition on a single line. nameGroup is the capture
// group holding the identifier; kindGroup, when non-zero, holds a keyword that marks
// class-like definitions.
type definitionPattern struct {
	re        *regexp.Regexp
	nameGroup int
	kindGroup int
}

var (
	defPattern = definitionPattern{re: regexp.MustCompile(`^\s*def\s+(\w+)`), nameGroup: 1}

	languagePatterns = map[string]definitionPattern{
		"js":   {re: regexp.MustCompile(`^\s*(async\s+)?function\s+(\w+)`), nameGroup: 2},
		"ts":   {re: regexp.MustCompile(`^\s*(async\s+)?(function|class)\s+(\w+)`), nameGroup: 3, kindGroup: 2},
		"java": {re: regexp.MustCompile(`^\s*(public|private|protected)?\s*(static)?\s*(class|interface|enum)\s+(\w+)`), nameGroup: 4, kindGroup: 3},
		"cpp":  {re: regexp.MustCompile(`^\s*(\w+\s+)?(\w+)\s*\(`), nameGroup: 2},
		"c":    {re: regexp.MustCompile(`^\s*(\w+\s+)?(\w+)\s*\(`), nameGroup: 2},
		"go":   {re: regexp.MustCompile(`^func\s+(\w+)`), nameGroup: 1},
		"rb":   {re: regexp.MustCompile(`^\s*def\s+(\w+)`), nameGroup: 1},
		"rs":   {re: regexp.MustCompile(`^\s*(pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+(\w+)`), nameGroup: 2},
		"php":  {re: regexp.MustCompile(`^\s*(?:(?:public|private|protected|static|abstract|final)\s+)*function\s+(\w+)`), nameGroup: 1},
	}

	// call-like lines the C-family pattern would otherwise mistake for definitions
	controlKeywords = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true, "return": true,
		"catch": true, "sizeof": true, "else": true, "do": true,
	}
)

func patternFor(language string) definitionPattern {
	if p, ok := languagePatterns[strings.ToLower(language)]; ok {
		return p
	}
	return defPattern
}

// patternChunks detects definitions line by line. Each match spans up to
// PatternSpanLines lines, clamped to the end of the file.
func (c *Chunker) patternChunks(filePath string, content []byte, language string) []types.Chunk {
	lines := strings.Split(string(content), "\n")
	pattern := patternFor(language)
	created := c.now()

	var chunks []types.Chunk
	for i, line := range lines {
		m := pattern.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		name := m[pattern.nameGroup]
		if name == "" || controlKeywords[name] {
			continue
		}

		start := i + 1
		end := start + PatternSpanLines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[start-1:end], "\n")

		chunk := types.Chunk{
			ID:        types.ChunkID(filePath, len(chunks)),
			FilePath:  filePath,
			Content:   body,
			Language:  language,
			StartLine: start,
			EndLine:   end,
			Kind:      types.KindFunction,
			Metadata: map[string]string{
				types.MetaChunkingMethod: types.MethodPattern,
			},
			CreatedAt: created,
		}

		if pattern.kindGroup > 0 && m[pattern.kindGroup] != "" && m[pattern.kindGroup] != "function" {
			chunk.Kind = types.KindClass
			chunk.ClassName = name
		} else {
			chunk.FunctionName = name
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}
