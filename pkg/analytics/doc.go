// Package analytics implements the catalog's event pipeline: an at-least-once
// Redis-backed event queue, a single background consumer aggregating raw
// view/click events into daily per-entity counters, and a periodic trending
// score recomputation consumed by collection listings.
//
// # Pipeline
//
// Producers push raw JSON events onto the queue and return immediately:
//
//	queue.Enqueue(ctx, payload)
//
// The consumer loop drains the queue, normalizes each payload, and applies it
// to the metrics_daily counters inside one transaction. Malformed payloads are
// logged, counted, and moved to a bounded dead-letter list; they never stall
// ingestion.
//
// The scorer runs once at startup and then daily at UTC midnight. It reads
// the trailing window of collection counters, weights each day's activity by
// (views + clickWeight×clicks) × 1/(age+1), resets every collection's score
// to zero, and applies the accumulated sums in the same transaction so that
// inactive collections decay to zero.
//
// # Delivery semantics
//
// The pipeline is at-least-once: redelivery of an event increments counters
// again, and an event dropped on a storage failure is not retried. Both are
// accepted trade-offs; the worst outcome is bounded loss of a single event or
// one score cycle, healed by the next scheduled run.
package analytics
