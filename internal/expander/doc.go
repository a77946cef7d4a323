// Package expander rewrites a search query into alternative phrasings with a
// language model so retrieval can cover vocabulary the user did not type.
//
// An LLMExpander drives any Completer; OpenAI-compatible chat endpoints and
// Gemini are provided. Failures are returned to the caller, which decides
// whether to continue with the original query alone.
package expander
