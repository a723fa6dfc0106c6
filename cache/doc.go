// Package cache provides the key-addressed store underneath the Ladle
// client's view synchronization layer.
//
// # Store
//
// The [Store] interface extends a conventional TTL cache with the metadata
// the synchronization protocol needs:
//
//   - Per-key revisions. Every accepted write bumps the key's revision.
//     [Store.SetIfNewer] rejects a write whose writer observed an older
//     revision, so a stale realtime push or a slow fetch result cannot
//     override a newer optimistic or confirmed value.
//
//   - Staleness marking. [Store.Invalidate] marks a key stale without
//     discarding its value; [Store.Get] treats stale entries as misses while
//     [Store.Entry] still returns them, so the UI can keep showing stale
//     data while a refetch is in flight.
//
//   - Atomic read-modify-write. [Store.Update] runs its callback under the
//     store lock, which is what makes cross-view partial patches race-free.
//
//   - Change subscription. [Store.Subscribe] notifies UI components of
//     writes, invalidations, and removals on a key so they can re-render.
//
//   - In-flight fetch tracking. [Store.TrackFetch] deduplicates concurrent
//     fetches per key and [Store.CancelFetch] lets an optimistic mutation
//     cancel fetches whose late results would clobber its patch.
//
// The interface uses [any] for values rather than generics because Go does
// not allow generic methods on interfaces. Type safety is provided by the
// package-level generic functions [Get] and [Fetch].
//
// # Persistence
//
// [NewInMemory] is the only Store implementation: all cached views live in
// process memory, mirroring the app's client-side session cache. An optional
// [Persister] ([NewSQLitePersister], pure-Go SQLite via [modernc.org/sqlite])
// mirrors writes as msgpack blobs so a warm snapshot survives restart;
// misses fall back to it with a fresh TTL and revision 1.
//
// # Fetch
//
// [Fetch] is the cache-aside helper used by the view readers:
//
//	found, feed, err := cache.Fetch(ctx, cache.FetchConfig{Key: key}, store,
//	    func(ctx context.Context) ([]recipe.Summary, bool, error) {
//	        entries, err := client.Feed(ctx, viewerID, 50, 0)
//	        return entries, err == nil, err
//	    },
//	)
//
// A second Fetch for a key already in flight does not hit the network; it
// returns the stale value (with FetchConfig.AllowStale) or nothing, and the
// caller observes the eventual value through [Store.Subscribe]. A fetch
// canceled by [Store.CancelFetch] returns its value to its own caller but
// never writes it back to the store.
package cache
