package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/coderag/pkg/types"
)

// GoExtractor extracts functions, methods and type declarations from Go source using go/ast.
type GoExtractor struct{}

// NewGoExtractor creates a Go structural extractor
func NewGoExtractor() *GoExtractor {
	return &GoExtractor{}
}

// Language implements Extractor
func (g *GoExtractor) Language() string { return "go" }

// Parse parses Go source and returns its structural symbols. Syntax errors are recorded
// in the result; symbols from the partial AST are still returned.
func (g *GoExtractor) Parse(filePath string, content []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{Language: g.Language()}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}

	if file != nil {
		extractor := &symbolExtractor{
			fset:    fset,
			symbols: make([]types.Symbol, 0),
		}
		ast.Inspect(file, extractor.visit)
		result.Symbols = extractor.symbols
	}

	return result, nil
}

// symbolExtractor is a visitor for AST traversal that extracts symbols
type symbolExtractor struct {
	fset    *token.FileSet
	symbols []types.Symbol
}

func (e *symbolExtractor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		e.extractFunction(n)
	case *ast.GenDecl:
		if n.Tok == token.TYPE {
			for _, spec := range n.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					e.extractTypeSpec(ts, n)
				}
			}
		}
	}

	return true
}

func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	sym := types.Symbol{
		Name:       funcDecl.Name.Name,
		Kind:       types.SymbolFunction,
		DocComment: extractDocComment(funcDecl.Doc),
		Start:      e.position(funcDecl.Pos()),
		End:        e.position(funcDecl.End()),
		Signature:  e.functionSignature(funcDecl),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.SymbolMethod
		sym.Parent = receiverType(funcDecl.Recv.List[0].Type)
	}

	e.symbols = append(e.symbols, sym)
}

func (e *symbolExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, decl *ast.GenDecl) {
	doc := typeSpec.Doc
	if doc == nil {
		doc = decl.Doc
	}

	// A lone spec spans its whole declaration so the "type" keyword is included.
	start, end := typeSpec.Pos(), typeSpec.End()
	if len(decl.Specs) == 1 {
		start, end = decl.Pos(), decl.End()
	}

	sym := types.Symbol{
		Name:       typeSpec.Name.Name,
		Kind:       types.SymbolType,
		DocComment: extractDocComment(doc),
		Start:      e.position(start),
		End:        e.position(end),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.SymbolClass
		sym.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", sym.Name, t.Fields.NumFields())
	case *ast.InterfaceType:
		sym.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", sym.Name, t.Methods.NumFields())
	default:
		sym.Signature = fmt.Sprintf("type %s", sym.Name)
	}

	e.symbols = append(e.symbols, sym)
}

// receiverType extracts the receiver type name from a method, unwrapping pointers and generics
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

func (e *symbolExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil {
		results := fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

func extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

func (e *symbolExtractor) position(pos token.Pos) types.Position {
	position := e.fset.Position(pos)
	return types.Position{
		Line:   position.Line,
		Column: position.Column,
	}
}
