// Package embedder turns memory text into fixed-size unit vectors.
//
// Two providers implement Embedder:
//
//   - LocalProvider hashes word and character trigram features into 384
//     signed buckets. It needs no network and is deterministic, so the same
//     text always produces the same vector.
//   - OpenAIProvider calls the OpenAI embeddings API with text-embedding-3-small
//     truncated to 384 dimensions, retrying rate limits and server errors with
//     exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vec, err := emb.Embed(ctx, "Cache stampede on cold start\n\nAdd a singleflight guard")
//
// # Provider Selection
//
// NewFromEnv honours DEVMEMORY_EMBEDDING_PROVIDER ("local" or "openai"). When
// it is unset, the presence of OPENAI_API_KEY selects OpenAI and its absence
// selects the local provider.
//
// # Caching
//
// Both providers keep an LRU cache keyed by provider, model and the SHA-256
// of the text. Returned slices are copies and safe to modify.
//
// Every vector returned is L2-normalised, so cosine similarity reduces to a
// dot product.
package embedder
