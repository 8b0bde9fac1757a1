// Package action defines the transient engagement actions that flow through
// the pipeline and their queue wire formats.
//
// This package contains type definitions and codecs only. Every other
// internal package imports action; action imports nothing internal.
//
// Key constraints:
//   - Actions exist only as queue messages or batch members, never as rows
//   - Exactly one target field is set on like and comment messages
//   - Natural keys (LikeKey, FollowKey) drive flush-time coalescing
package action
