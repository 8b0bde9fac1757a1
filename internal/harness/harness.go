package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/config"
	"github.com/roach88/kudos/internal/feed"
	"github.com/roach88/kudos/internal/queue"
	"github.com/roach88/kudos/internal/service"
	"github.com/roach88/kudos/internal/testutil"
)

// Harness runs one scenario against a fresh pipeline. Queues are never
// consumed in the background: flush steps drain them explicitly, so every
// run is deterministic.
type Harness struct {
	svc    *service.Service
	clock  *clockwork.FakeClock
	sender *testutil.RecordingSender
	redis  *miniredis.Miniredis
	client *redis.Client
}

// Run executes a scenario in a fresh in-memory database and returns the
// result with its trace.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	if err := scenario.Seed.Apply(ctx, h.svc.Store, h.clock.Now()); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		out, stepErr := h.execute(ctx, step)
		ev := result.addTrace(step.Step, step.Args, out, stepErr)
		for _, msg := range checkExpect(step.Expect, ev) {
			result.AddError(fmt.Sprintf("flow step %d (%s): %s", i+1, step.Step, msg))
		}
	}

	actx := &AssertionContext{
		Store:  h.svc.Store,
		State:  h.svc.State,
		Sender: h.sender,
	}
	if scenario.Converge {
		if err := h.converge(ctx, actx); err != nil {
			result.AddError(err.Error())
		}
	}
	for _, msg := range EvaluateAssertions(ctx, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Reconcile.Enabled = false
	if scenario.Policy != "" {
		cfg.Reconcile.Policy = scenario.Policy
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &Harness{
		clock:  testutil.NewFakeClock(),
		sender: testutil.NewRecordingSender(),
	}
	opts := []service.Option{
		service.WithSender(h.sender),
		service.WithClock(h.clock),
		service.WithIDGenerator(testutil.NewSequentialIDs("comment")),
	}
	if scenario.Backend == "redis" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		h.redis = mr
		h.client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		opts = append(opts, service.WithRedisClient(h.client))
	}

	svc, err := service.New(cfg, logger, opts...)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	h.svc = svc
	return h, nil
}

func (h *Harness) close() {
	if h.svc != nil {
		h.svc.Close()
	}
	if h.client != nil {
		h.client.Close()
	}
	if h.redis != nil {
		h.redis.Close()
	}
}

func (h *Harness) execute(ctx context.Context, step FlowStep) (map[string]any, error) {
	args := stepArgs(step.Args)
	switch step.Step {
	case StepLike:
		res, err := h.svc.Toggles.ToggleLike(ctx, args.str("actor"), action.Target{
			ID:   args.str("target"),
			Type: action.TargetType(args.str("type")),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": string(res.Action.Kind), "count": res.Count}, nil

	case StepFollow:
		res, err := h.svc.Toggles.ToggleFollow(ctx, args.str("follower"), args.str("following"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"kind": string(res.Kind)}, nil

	case StepComment:
		res, err := h.svc.Toggles.SubmitComment(ctx, action.CommentAction{
			AuthorID:        args.str("author"),
			PostID:          args.str("post"),
			ClipID:          args.str("clip"),
			ParentCommentID: args.str("parent"),
			Text:            args.str("text"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"recipient": res.RecipientID}, nil

	case StepAccept:
		ok, err := h.svc.Store.AcceptFollow(ctx, action.FollowKey{
			FollowerID:  args.str("follower"),
			FollowingID: args.str("following"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"accepted": ok}, nil

	case StepFlush:
		return h.flush(ctx)

	case StepDrop:
		kind := queue.Kind(args.str("queue"))
		if !slices.Contains(queue.Kinds, kind) {
			return nil, fmt.Errorf("unknown queue %q", kind)
		}
		msgs, err := service.Drain(ctx, h.svc.Bus.Queue(kind))
		if err != nil {
			return nil, err
		}
		return map[string]any{"dropped": len(msgs)}, nil

	case StepSweep:
		report, err := h.svc.Sweeper.Sweep(ctx)
		return map[string]any(report.Fields()), err

	case StepFeed:
		limit, err := args.integer("limit")
		if err != nil {
			return nil, err
		}
		page, err := args.integer("page")
		if err != nil {
			return nil, err
		}
		items, err := h.svc.Feed.Compose(ctx, args.str("viewer"), page, limit)
		if err != nil {
			return nil, err
		}
		return feedResult(items), nil

	case StepAdvance:
		d, err := time.ParseDuration(args.str("by"))
		if err != nil {
			return nil, fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
		if h.redis != nil {
			h.redis.FastForward(d)
		}
		return map[string]any{"now": h.clock.Now().UTC().Format(time.RFC3339)}, nil
	}
	return nil, fmt.Errorf("unknown step %q", step.Step)
}

// flush drains every queue through its flusher, the way a worker would on a
// size or timer flush.
func (h *Harness) flush(ctx context.Context) (map[string]any, error) {
	reports, err := h.svc.Flush(ctx)
	out := map[string]any{}
	for _, r := range reports {
		fields := r.Fields()
		delete(fields, "kind")
		out[r.Kind] = map[string]any(fields)
	}
	return out, err
}

// feedResult lists the composed ids per pool in sorted order, so results do
// not depend on the shuffle.
func feedResult(items []feed.Item) map[string]any {
	following, trending := []string{}, []string{}
	likes := map[string]any{}
	for _, it := range items {
		if it.Source == feed.SourceFollowing {
			following = append(following, it.ID)
		} else {
			trending = append(trending, it.ID)
		}
		likes[it.ID] = it.LikeCount
	}
	slices.Sort(following)
	slices.Sort(trending)
	return map[string]any{
		"count":     len(items),
		"following": following,
		"trending":  trending,
		"likes":     likes,
	}
}

// converge flushes, sweeps, and checks that nothing is left pending.
func (h *Harness) converge(ctx context.Context, actx *AssertionContext) error {
	if _, err := h.flush(ctx); err != nil {
		return fmt.Errorf("converge: flush: %w", err)
	}
	if _, err := h.svc.Sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("converge: sweep: %w", err)
	}
	return checkConverged(ctx, actx)
}

func checkExpect(expect map[string]any, ev TraceEvent) []string {
	var errs []string
	want, hasErr := expect["error"]
	switch {
	case hasErr && ev.Error == "":
		errs = append(errs, fmt.Sprintf("expected error containing %q, got none", want))
	case hasErr && !strings.Contains(ev.Error, fmt.Sprint(want)):
		errs = append(errs, fmt.Sprintf("expected error containing %q, got %q", want, ev.Error))
	case !hasErr && ev.Error != "":
		errs = append(errs, fmt.Sprintf("unexpected error: %s", ev.Error))
	}
	for k, v := range expect {
		if k == "error" {
			continue
		}
		got, ok := ev.Result[k]
		if !ok {
			errs = append(errs, fmt.Sprintf("result has no field %q", k))
			continue
		}
		if !matchValue(v, got) {
			errs = append(errs, fmt.Sprintf("%s: expected %v, got %v", k, v, got))
		}
	}
	slices.Sort(errs)
	return errs
}

type stepArgs map[string]any

func (a stepArgs) str(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (a stepArgs) integer(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.(int)
	if !ok {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
