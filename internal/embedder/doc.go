// Package embedder provides the embedding capability: batches of text to
// fixed-dimension vectors, in input order.
//
// # Providers
//
//   - jina, openai: HTTP APIs speaking the OpenAI /embeddings format, with
//     retry and exponential backoff. 4xx responses other than 429 are not retried.
//   - hugot: a sentence-transformers model (all-MiniLM-L6-v2 by default) run
//     in-process with the pure Go ONNX backend, downloaded on first use.
//   - local: feature hashing of identifier tokens. Needs no model or network.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "hugot", CacheSize: 1000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//
// # Caching
//
// Every provider accepts an LRU Cache keyed by the SHA-256 of the text. Batch
// requests only send cache misses to the provider.
package embedder
