// Package parser extracts structural symbols (functions, methods, classes, types)
// from source files.
//
// Extractors are looked up by language tag in a Registry:
//
//	reg := parser.DefaultRegistry()
//	ext, ok := reg.Lookup("py")
//	if ok {
//	    result, _ := ext.Parse("auth.py", content)
//	    for _, sym := range result.Symbols {
//	        fmt.Printf("%s %s %d-%d\n", sym.Kind, sym.Name, sym.Start.Line, sym.End.Line)
//	    }
//	}
//
// The Go extractor uses go/parser and go/ast. The Python extractor follows
// indentation and skips the contents of triple-quoted strings. Both report
// syntax problems in ParseResult.Errors and still return whatever symbols they
// could recover, so indexing continues on broken files.
package parser
