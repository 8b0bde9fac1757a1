// Package ephemeral provides the shared low-latency counters and sets that
// act as read-time truth ahead of durable commits.
//
// Every primitive on Store is individually atomic. Combinations of
// primitives are not transactional, with one exception: Toggle performs the
// whole like/follow state transition as a single atomic step (a Lua script on
// Redis, an exclusive lock in memory).
//
// Key convention:
//
//	like_count:<targetId>        live like counter
//	user_liked:<targetId>        actors with a pending like
//	user_unliked:<targetId>      actors with a pending unlike of a durable like
//	user:<id>:following          pending follows made by <id>
//	user:<id>:unfollowing        pending unfollows of durable edges by <id>
//	user:<id>:followers          mirror of pending follows of <id>
//	seenPosts:<viewerId>         feed seen-set, 24h TTL
package ephemeral
