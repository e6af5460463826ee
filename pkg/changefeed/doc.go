// Package changefeed provides an in-process change feed with per-key
// subscriptions.
//
// A Feed fans row-change notifications out to subscribers that registered
// interest in a specific key. Notifications carry only the key and the kind
// of change; consumers re-read the row rather than applying patches, so a
// dropped notification is corrected by the next one.
//
//	feed := changefeed.New[uuid.UUID](8)
//	sub := feed.Subscribe(ctx, userID)
//	defer sub.Close()
//
//	for range sub.C() {
//		refresh()
//	}
package changefeed
