// Package harness runs YAML conformance scenarios against the real
// engagement pipeline: toggle handler, ephemeral store, queues, flushers,
// reconciliation sweep and feed composer.
//
// # Scenario Format
//
//	name: like_notifies_owner
//	description: "What this scenario validates"
//	backend: memory            # or redis (embedded miniredis)
//	policy: explicit_intent    # reconciliation policy for sweep steps
//	seed:
//	  users: [{id: bob, name: Bob, token: tok-bob}]
//	  posts: [{id: p1, author: bob, age: 2h}]
//	flow:
//	  - step: like
//	    args: {actor: alice, target: p1}
//	    expect: {action: like, count: 1}
//	  - step: flush
//	    expect:
//	      likes: {created: 1, notified: 1}
//	assertions:
//	  - type: likers
//	    target: p1
//	    values: [alice]
//	converge: true
//
// # Steps
//
//   - like, follow, comment: the toggle handler operations
//   - accept: accepts a pending follow request
//   - flush: drains every queue through its flusher
//   - drop: discards a queue's messages, simulating a lost delivery
//   - sweep: runs one reconciliation pass
//   - feed: composes a page for a viewer
//   - advance: moves the fake clock forward
//
// Queues are only drained by flush and drop steps, so a scenario controls
// exactly which actions share a batch.
//
// # Assertion Types
//
//   - likers: durable likers of a target
//   - counter: live like counter of a target, or its absence
//   - follow: durable follow status (accepted, pending or none)
//   - members: members of an ephemeral set
//   - comments: comment bodies on a target, oldest first
//   - notifications: notification bodies sent, in order
//
// # Golden Files
//
// RunWithGolden compares a scenario trace against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// or run every scenario in a directory from the CLI:
//
//	kudos test ./internal/harness/testdata/scenarios --update
package harness
