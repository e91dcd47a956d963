// Package mirror maintains a query-optimized projection of registry state.
//
// The projector tails the registry event feed from a durable cursor and
// applies each event as a version-guarded upsert, so replaying a delivered
// event is a no-op. The projection answers the read-side queries (records I
// own, records shared with me, auditor listings) without touching the
// registry; a divergent or lost mirror is rebuilt with Resync.
package mirror
