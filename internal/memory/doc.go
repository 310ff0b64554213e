// Package memory is the service layer between the front ends and the store.
//
// A Service owns an Embedder and a storage.Adapter. Save embeds
// "title\n\nbody" and upserts, letting the store deduplicate near-identical
// records. Search embeds the query text and returns ranked records with
// their similarity. Recent lists the current project's recently updated
// records.
//
//	svc := memory.NewService(store, emb, memory.Options{DefaultLimit: 5, RecentHours: 1})
//	rec, err := svc.Save(ctx, memory.SaveRequest{
//	    Kind:  types.KindIssue,
//	    Title: "Flaky sync test",
//	    Body:  "Fails when the replica interval is under 10ms",
//	})
package memory
