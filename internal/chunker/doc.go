// Package chunker divides source files into chunks for embedding and search.
//
// Three strategies are tried in order:
//
//  1. Structural: when the parser registry has an extractor for the language,
//     one chunk per function, method, class or type, using the parser's
//     exact line span. Chunks carry a doc_string and a complexity estimate.
//  2. Pattern: for languages without an extractor, single-line regular
//     expressions detect definitions; each match spans up to 50 lines.
//  3. Window: overlapping windows of whitespace tokens. Line numbers of window
//     chunks are approximate (50 tokens per line).
//
// A language with an extractor whose parse yields nothing goes straight to
// window chunking.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.Config{ChunkSize: 512, Overlap: 50}, nil, logger)
//	if err != nil {
//	    return err
//	}
//	chunks := c.Extract("auth/login.py", content, "py")
package chunker
