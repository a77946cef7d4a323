package parser

import (
	"regexp"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

var (
	pyDefRe   = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	pyClassRe = regexp.MustCompile(`^(\s*)class\s+(\w+)\s*[(:]`)
)

// PythonExtractor extracts functions, methods and classes from Python source using
// indentation structure. Nested definitions are emitted as well.
type PythonExtractor struct{}

// NewPythonExtractor creates a Python structural extractor
func NewPythonExtractor() *PythonExtractor {
	return &PythonExtractor{}
}

// Language implements Extractor
func (p *PythonExtractor) Language() string { return "py" }

type pyLine struct {
	text      string
	indent    int
	blank     bool // empty or comment-only
	inString  bool // starts inside a triple-quoted string
	continued bool // starts inside an open bracket
}

type pyScope struct {
	name   string
	indent int
	class  bool
}

// Parse implements Extractor
func (p *PythonExtractor) Parse(filePath string, content []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{Language: p.Language()}
	lines := scanPythonLines(string(content))

	var scopes []pyScope
	for i, ln := range lines {
		if ln.blank || ln.inString || ln.continued {
			continue
		}
		for len(scopes) > 0 && scopes[len(scopes)-1].indent >= ln.indent {
			scopes = scopes[:len(scopes)-1]
		}

		var sym types.Symbol
		if m := pyDefRe.FindStringSubmatch(ln.text); m != nil {
			sym = types.Symbol{Name: m[2], Kind: types.SymbolFunction}
			if parent := nearestClass(scopes); parent != "" && scopes[len(scopes)-1].class {
				sym.Kind = types.SymbolMethod
				sym.Parent = parent
			}
		} else if m := pyClassRe.FindStringSubmatch(ln.text); m != nil {
			sym = types.Symbol{Name: m[2], Kind: types.SymbolClass, Parent: nearestClass(scopes)}
		} else {
			continue
		}

		headerEnd, ok := pythonHeaderEnd(lines, i)
		if !ok {
			result.AddError(filePath, i+1, ln.indent+1, "unterminated definition header for "+sym.Name)
			continue
		}

		end := pythonBlockEnd(lines, i, headerEnd)
		sym.Start = types.Position{Line: i + 1, Column: ln.indent + 1}
		sym.End = types.Position{Line: end + 1, Column: len(lines[end].text) + 1}
		sym.Signature = strings.TrimSpace(ln.text)
		sym.DocComment = pythonDocstring(lines, headerEnd, end)

		result.Symbols = append(result.Symbols, sym)
		scopes = append(scopes, pyScope{name: sym.Name, indent: ln.indent, class: sym.Kind == types.SymbolClass})
	}

	return result, nil
}

func nearestClass(scopes []pyScope) string {
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i].class {
			return scopes[i].name
		}
	}
	return ""
}

// scanPythonLines classifies each line, tracking triple-quoted strings and
// open brackets so their contents never terminate a block.
func scanPythonLines(src string) []pyLine {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	out := make([]pyLine, len(raw))

	var st pyScanState
	for i, text := range raw {
		trimmed := strings.TrimSpace(text)
		out[i] = pyLine{
			text:      text,
			indent:    indentWidth(text),
			blank:     trimmed == "" || strings.HasPrefix(trimmed, "#"),
			inString:  st.open != "",
			continued: st.open == "" && st.depth > 0,
		}
		st = st.advance(text)
	}
	return out
}

// pyScanState is the lexical state carried from one line to the next
type pyScanState struct {
	open  string // active triple-quote delimiter
	depth int    // open (, [ and { outside strings
}

// advance scans one line. Single-quoted strings end with their line; quotes,
// brackets and comment markers inside any string are ignored.
func (st pyScanState) advance(line string) pyScanState {
	for i := 0; i < len(line); {
		if st.open != "" {
			switch {
			case line[i] == '\\':
				i += 2
			case strings.HasPrefix(line[i:], st.open):
				st.open = ""
				i += 3
			default:
				i++
			}
			continue
		}

		switch line[i] {
		case '#':
			return st
		case '"', '\'':
			if q := line[i : i+1]; strings.HasPrefix(line[i:], q+q+q) {
				st.open = q + q + q
				i += 3
				continue
			}
			i = skipQuoted(line, i)
		case '(', '[', '{':
			st.depth++
			i++
		case ')', ']', '}':
			if st.depth > 0 {
				st.depth--
			}
			i++
		default:
			i++
		}
	}
	return st
}

// skipQuoted returns the index just past the single-line string opened at start
func skipQuoted(line string, start int) int {
	q := line[start]
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case q:
			return i + 1
		}
	}
	return len(line)
}

func indentWidth(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8 - n%8
		default:
			return n
		}
	}
	return n
}

// pythonHeaderEnd finds the line that closes a def/class header (balanced brackets,
// trailing colon). Headers may span several lines.
func pythonHeaderEnd(lines []pyLine, start int) (int, bool) {
	depth := 0
	for i := start; i < len(lines); i++ {
		code := stripComment(lines[i].text)
		for _, r := range code {
			switch r {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
		}
		if depth <= 0 && strings.Contains(code, ":") {
			return i, true
		}
	}
	return 0, false
}

func stripComment(line string) string {
	inQuote := rune(0)
	for i, r := range line {
		switch {
		case inQuote != 0 && r == inQuote:
			inQuote = 0
		case inQuote == 0 && (r == '"' || r == '\''):
			inQuote = r
		case inQuote == 0 && r == '#':
			return line[:i]
		}
	}
	return line
}

// pythonBlockEnd returns the index of the last line belonging to the block whose
// header starts at start and ends at headerEnd.
func pythonBlockEnd(lines []pyLine, start, headerEnd int) int {
	header := lines[start]

	// Inline body: "def f(): return 1"
	code := strings.TrimSpace(stripComment(lines[headerEnd].text))
	if !strings.HasSuffix(code, ":") {
		return headerEnd
	}

	end := headerEnd
	for i := headerEnd + 1; i < len(lines); i++ {
		ln := lines[i]
		if ln.inString || ln.continued {
			end = i
			continue
		}
		if ln.blank {
			continue
		}
		if ln.indent <= header.indent {
			break
		}
		end = i
	}
	return end
}

// pythonDocstring returns the docstring of the block, if its first statement is a string literal.
func pythonDocstring(lines []pyLine, headerEnd, end int) string {
	first := -1
	for i := headerEnd + 1; i <= end; i++ {
		if !lines[i].blank {
			first = i
			break
		}
	}
	if first < 0 {
		return ""
	}

	text := strings.TrimSpace(lines[first].text)
	text = strings.TrimLeft(text, "rRuUbB")
	for _, q := range []string{`"""`, `'''`} {
		if !strings.HasPrefix(text, q) {
			continue
		}
		body := text[len(q):]
		if idx := strings.Index(body, q); idx >= 0 {
			return strings.TrimSpace(body[:idx])
		}
		parts := []string{body}
		for i := first + 1; i <= end; i++ {
			line := lines[i].text
			if idx := strings.Index(line, q); idx >= 0 {
				parts = append(parts, line[:idx])
				break
			}
			parts = append(parts, line)
		}
		return dedentDoc(parts)
	}
	for _, q := range []string{`"`, `'`} {
		if strings.HasPrefix(text, q) {
			if idx := strings.Index(text[1:], q); idx >= 0 {
				return text[1 : idx+1]
			}
		}
	}
	return ""
}

func dedentDoc(parts []string) string {
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
