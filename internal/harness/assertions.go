package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/testutil"
)

// AssertionContext gives assertions access to the pipeline's final state.
type AssertionContext struct {
	Store  *store.Store
	State  ephemeral.Store
	Sender *testutil.RecordingSender
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertLikers:
		likers, err := actx.Store.Likers(ctx, a.Target)
		if err != nil {
			return err
		}
		return compareList(AssertLikers+" on "+a.Target, sorted(a.Values), likers)

	case AssertCounter:
		n, ok, err := actx.State.Count(ctx, ephemeral.LikeCountKey(a.Target))
		if err != nil {
			return err
		}
		switch {
		case a.Absent && ok:
			return &AssertionError{Type: AssertCounter, Expected: "no counter for " + a.Target, Actual: fmt.Sprint(n)}
		case a.Absent:
			return nil
		case !ok:
			return &AssertionError{Type: AssertCounter, Expected: fmt.Sprint(*a.Count), Actual: "no counter for " + a.Target}
		case n != int64(*a.Count):
			return &AssertionError{Type: AssertCounter, Expected: fmt.Sprint(*a.Count), Actual: fmt.Sprint(n)}
		}
		return nil

	case AssertFollow:
		status := "none"
		edge, err := actx.Store.FollowEdge(ctx, action.FollowKey{FollowerID: a.Follower, FollowingID: a.Following})
		switch {
		case err == nil:
			status = string(edge.Status)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if status != a.Status {
			return &AssertionError{
				Type:     AssertFollow,
				Expected: fmt.Sprintf("%s->%s %s", a.Follower, a.Following, a.Status),
				Actual:   status,
			}
		}
		return nil

	case AssertMembers:
		members, err := actx.State.Members(ctx, a.Key)
		if err != nil {
			return err
		}
		return compareList(AssertMembers+" of "+a.Key, sorted(a.Values), sorted(members))

	case AssertComments:
		info, err := actx.Store.LookupTarget(ctx, a.Target)
		if err != nil {
			return err
		}
		comments, err := actx.Store.CommentsOn(ctx, info.Target)
		if err != nil {
			return err
		}
		bodies := make([]string, 0, len(comments))
		for _, c := range comments {
			bodies = append(bodies, c.Body)
		}
		return compareList(AssertComments+" on "+a.Target, a.Values, bodies)

	case AssertNotifications:
		sent := actx.Sender.Sent()
		bodies := make([]string, 0, len(sent))
		for _, n := range sent {
			bodies = append(bodies, n.Body)
		}
		if a.Count != nil && len(sent) != *a.Count {
			return &AssertionError{Type: AssertNotifications, Expected: fmt.Sprintf("%d sent", *a.Count), Actual: fmt.Sprintf("%d sent %v", len(sent), bodies)}
		}
		if a.Values != nil {
			return compareList(AssertNotifications, a.Values, bodies)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// checkConverged verifies that no like or follow intent is still pending
// and that every surviving counter agrees with the durable count.
func checkConverged(ctx context.Context, actx *AssertionContext) error {
	for _, prefix := range []string{ephemeral.LikedPrefix, ephemeral.UnlikedPrefix} {
		keys, err := actx.State.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			return &AssertionError{Type: "converge", Expected: "no pending " + prefix + " sets", Actual: strings.Join(sorted(keys), ", ")}
		}
	}

	keys, err := actx.State.Keys(ctx, "user:")
	if err != nil {
		return err
	}
	for _, key := range sorted(keys) {
		if strings.HasSuffix(key, ":following") || strings.HasSuffix(key, ":unfollowing") {
			return &AssertionError{Type: "converge", Expected: "no pending follow sets", Actual: key}
		}
	}

	counters, err := actx.State.Keys(ctx, ephemeral.LikeCountPrefix)
	if err != nil {
		return err
	}
	for _, key := range sorted(counters) {
		target, ok := ephemeral.TargetFromKey(key, ephemeral.LikeCountPrefix)
		if !ok {
			continue
		}
		live, _, err := actx.State.Count(ctx, key)
		if err != nil {
			return err
		}
		durable, err := actx.Store.LikeCount(ctx, target)
		if err != nil {
			return err
		}
		if live != durable {
			return &AssertionError{Type: "converge", Expected: fmt.Sprintf("%s = %d", key, durable), Actual: fmt.Sprint(live)}
		}
	}
	return nil
}

func compareList(what string, want, got []string) error {
	if want == nil {
		want = []string{}
	}
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{Type: what, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}

// matchValue reports whether actual matches expected. Maps match as
// subsets, lists match element by element and scalars by their printed form.
func matchValue(expected, actual any) bool {
	switch want := expected.(type) {
	case map[string]any:
		got, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range want {
			g, ok := got[k]
			if !ok || !matchValue(v, g) {
				return false
			}
		}
		return true
	case []any:
		rv := reflect.ValueOf(actual)
		if rv.Kind() != reflect.Slice || rv.Len() != len(want) {
			return false
		}
		for i, v := range want {
			if !matchValue(v, rv.Index(i).Interface()) {
				return false
			}
		}
		return true
	case nil:
		return actual == nil
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}
