package types

import "errors"

// SymbolKind represents the kind of structural unit a parser found
type SymbolKind string

const (
	SymbolFunction SymbolKind = "function"
	SymbolMethod   SymbolKind = "method"
	SymbolClass    SymbolKind = "class"
	SymbolType     SymbolKind = "type"
)

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// Symbol is a structural unit (function, method, class, type) extracted by a parser.
type Symbol struct {
	Name       string
	Kind       SymbolKind
	Parent     string // enclosing class or receiver type, if any
	Signature  string
	DocComment string

	Start Position
	End   Position
}

// ValidateKind checks if the symbol kind is valid
func (s *Symbol) ValidateKind() error {
	switch s.Kind {
	case SymbolFunction, SymbolMethod, SymbolClass, SymbolType:
		return nil
	default:
		return errors.New("invalid symbol kind")
	}
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}

// ChunkKind maps the symbol kind onto the chunk vocabulary.
func (s *Symbol) ChunkKind() ChunkKind {
	switch s.Kind {
	case SymbolMethod:
		return KindMethod
	case SymbolClass:
		return KindClass
	case SymbolType:
		return KindType
	default:
		return KindFunction
	}
}

// ParseResult represents the output of a structural parse of one file
type ParseResult struct {
	Language string
	Symbols  []Symbol
	Errors   []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}
