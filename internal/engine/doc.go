// Package engine implements the per-kind batch workers that move queued
// engagement actions into the durable store.
//
// ARCHITECTURE:
//
// Owned Accumulator:
// Each Worker owns one Batcher. The Batcher is the only goroutine that
// touches its buffer, so no buffer state is shared between kinds or with
// request handlers.
//   - Items arrive over a bounded channel (capacity = batch size)
//   - A timer is armed when the first item lands in an empty buffer
//   - The buffer flushes at BatchSize items or after BatchMaxWait,
//     whichever comes first
//
// Flush Algorithm (likes and follows):
//  1. Group by natural key
//  2. Keep only the last action per key; deleting a missing row and
//     re-inserting an existing one are both no-ops
//  3. Partition survivors into creates and deletes
//  4. Bulk insert and bulk delete as independent operations
//  5. Clear ephemeral pending state for every touched key
//  6. Notify recipients of rows that were actually inserted
//
// ERROR HANDLING:
// A failing bulk operation drops its part of the batch. There is no
// in-place retry; likes are repaired by the reconciliation sweep.
// Workers log and continue, they never stop on a flush error.
//
// SHUTDOWN:
// On cancellation the Batcher drains its channel and flushes what it holds
// once, with a context detached from the cancelled one.
package engine
