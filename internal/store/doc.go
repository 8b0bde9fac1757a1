// Package store provides the SQLite-backed system of record for engagement
// rows: users, posts, clips, comments, likes and follows.
//
// # Critical Patterns
//
// Uniqueness Is Enforced By The Database
//   - UNIQUE(actor_id, target_id) on likes
//   - UNIQUE(follower_id, following_id) on follows
//   - Bulk creates use ON CONFLICT DO NOTHING and report duplicates
//     instead of failing the whole batch
//
// Bulk Operations Are Independent
//   - CreateLikes and DeleteLikes each run in their own transaction
//   - A failing bulk operation rolls back only itself
//
// Deterministic Query Results
//   - Every list query has a total ORDER BY ending in id ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as INTEGER unix milliseconds.
package store
