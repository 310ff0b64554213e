// Package types provides shared type definitions for devmemory.
//
// A Project is one repository-or-directory identity. A Record is a short
// structured note owned by exactly one project:
//
//	rec := &types.Record{
//	    Kind:  types.KindIssue,
//	    Title: "flaky auth test",
//	    Body:  "fails on CI when the clock skews",
//	}
//
// Kind and Status are closed enumerations; Validate rejects anything else
// before a record reaches storage:
//
//	if err := rec.Validate(); err != nil {
//	    return err // errors.Is(err, types.ErrInvalidKind) etc.
//	}
//
// # Embeddings
//
// Every record may carry a 384-dimension L2-normalised embedding. The
// embedding never appears in the JSON wire shape; search results carry a
// Similarity instead.
package types
