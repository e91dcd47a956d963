// Package registry implements the authorization registry: the append-only,
// owner-checked system of record for encrypted-record access control.
//
// Entities live at addresses derived from their identifying fields, so
// re-submitting the same logical entity always targets the same slot. Every
// confirmed state transition appends an event with a monotonic sequence
// number; the mirror projector consumes that feed.
//
// Mutations are serialized: of two concurrent conflicting writes against
// the same entity exactly one succeeds and one is rejected by its state or
// authorization check, and event sequence numbers are assigned gap-free in
// commit order.
package registry
