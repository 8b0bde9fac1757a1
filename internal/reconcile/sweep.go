// Package reconcile repairs drift between pending like state in the
// ephemeral store and durable like rows.
//
// The batch path clears pending membership on every flush, so anything a
// sweep still finds is an action whose queued message was lost or whose
// flush failed. The sweep writes durable rows for it, then forgets exactly
// the members it scanned.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/store"
)

// Policy decides what a pending member means when the durable row already
// agrees or disagrees with it.
type Policy string

const (
	// ExplicitIntent trusts the set a member is in: user_liked means "should
	// exist", user_unliked means "should not exist". Stale members cause no
	// write.
	ExplicitIntent Policy = "explicit_intent"
	// ImplicitUnlike treats a user_liked member that already has a durable
	// row as an unlike. user_unliked sets are not scanned.
	ImplicitUnlike Policy = "implicit_unlike"
)

// ParsePolicy accepts the configuration spelling of a policy.
// The empty string selects ExplicitIntent.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", ExplicitIntent:
		return ExplicitIntent, nil
	case ImplicitUnlike:
		return ImplicitUnlike, nil
	}
	return "", fmt.Errorf("unknown reconcile policy %q", s)
}

// Store is the durable side of the sweep.
type Store interface {
	LookupTarget(ctx context.Context, id string) (store.TargetInfo, error)
	LikedBy(ctx context.Context, targetID string, actorIDs []string) (map[string]bool, error)
	CreateLikes(ctx context.Context, likes []action.LikeAction) (store.LikeInsertResult, error)
	DeleteLikes(ctx context.Context, keys []action.LikeKey) (int64, error)
}

// Report summarises one sweep.
type Report struct {
	Targets       int
	Scanned       int
	Created       int
	Deleted       int
	Stale         int
	Orphaned      int
	CountersReset int
}

// Fields renders the report counts for structured logging.
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"targets":        r.Targets,
		"scanned":        r.Scanned,
		"created":        r.Created,
		"deleted":        r.Deleted,
		"stale":          r.Stale,
		"orphaned":       r.Orphaned,
		"counters_reset": r.CountersReset,
	}
}

// Sweeper converges pending like state with the durable store.
type Sweeper struct {
	store   Store
	state   ephemeral.Store
	policy  Policy
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithPolicy selects how pending members are interpreted.
func WithPolicy(p Policy) Option {
	return func(s *Sweeper) { s.policy = p }
}

// WithMetrics records sweep runs and writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper returns a Sweeper using the explicit-intent policy unless
// WithPolicy says otherwise.
func NewSweeper(st Store, state ephemeral.Store, logger logrus.FieldLogger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:  st,
		state:  state,
		policy: ExplicitIntent,
		logger: logger.WithField("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy reports the configured policy.
func (s *Sweeper) Policy() Policy {
	return s.policy
}

// Sweep runs one reconciliation pass. A failing target is recorded and the
// pass moves on; the returned error aggregates every per-target failure.
// Members of a failed target are kept so the next pass retries them.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   *multierror.Error
	)

	targets, err := s.pendingTargets(ctx)
	if err != nil {
		s.metrics.SweepRun("error")
		return report, fmt.Errorf("sweep: %w", err)
	}
	report.Targets = len(targets)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if err := s.reconcileTarget(ctx, target, &report); err != nil {
			s.logger.WithError(err).WithField("target", target).Warn("target not reconciled")
			errs = multierror.Append(errs, fmt.Errorf("target %s: %w", target, err))
		}
	}

	if err := s.resetIdleCounters(ctx, &report); err != nil {
		errs = multierror.Append(errs, err)
	}

	s.metrics.SweepWrites("create", report.Created)
	s.metrics.SweepWrites("delete", report.Deleted)

	logger := s.logger.WithFields(report.Fields())
	if err := errs.ErrorOrNil(); err != nil {
		s.metrics.SweepRun("error")
		logger.WithError(err).Warn("sweep finished with errors")
		return report, err
	}
	s.metrics.SweepRun("ok")
	logger.Info("sweep complete")
	return report, nil
}

// pendingTargets lists every target with a pending-like set, plus every
// target with a pending-unlike set under ExplicitIntent.
func (s *Sweeper) pendingTargets(ctx context.Context) ([]string, error) {
	prefixes := []string{ephemeral.LikedPrefix}
	if s.policy == ExplicitIntent {
		prefixes = append(prefixes, ephemeral.UnlikedPrefix)
	}

	var targets []string
	for _, prefix := range prefixes {
		keys, err := s.state.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		for _, key := range keys {
			if target, ok := ephemeral.TargetFromKey(key, prefix); ok {
				targets = append(targets, target)
			}
		}
	}
	slices.Sort(targets)
	return slices.Compact(targets), nil
}

func (s *Sweeper) reconcileTarget(ctx context.Context, target string, report *Report) error {
	liked, err := s.state.Members(ctx, ephemeral.LikedKey(target))
	if err != nil {
		return err
	}
	var unliked []string
	if s.policy == ExplicitIntent {
		if unliked, err = s.state.Members(ctx, ephemeral.UnlikedKey(target)); err != nil {
			return err
		}
	}
	if len(liked) == 0 && len(unliked) == 0 {
		return nil
	}
	report.Scanned += len(liked) + len(unliked)

	info, err := s.store.LookupTarget(ctx, target)
	if errors.Is(err, store.ErrNotFound) {
		// The target is gone; nothing can be written for it.
		report.Orphaned += len(liked) + len(unliked)
		return s.forget(ctx, target, liked, unliked)
	}
	if err != nil {
		return err
	}

	durable, err := s.store.LikedBy(ctx, target, slices.Concat(liked, unliked))
	if err != nil {
		return err
	}

	var (
		creates []action.LikeAction
		deletes []action.LikeKey
	)
	for _, actor := range liked {
		switch {
		case !durable[actor]:
			creates = append(creates, action.LikeAction{
				ActorID:     actor,
				TargetID:    target,
				TargetType:  info.Target.Type,
				Kind:        action.Like,
				RecipientID: info.OwnerID,
			})
		case s.policy == ImplicitUnlike:
			deletes = append(deletes, action.LikeKey{ActorID: actor, TargetID: target})
		default:
			report.Stale++
		}
	}
	for _, actor := range unliked {
		if durable[actor] {
			deletes = append(deletes, action.LikeKey{ActorID: actor, TargetID: target})
		} else {
			report.Stale++
		}
	}

	if len(creates) > 0 {
		result, err := s.store.CreateLikes(ctx, creates)
		if err != nil {
			return err
		}
		report.Created += len(result.Inserted)
	}
	if len(deletes) > 0 {
		n, err := s.store.DeleteLikes(ctx, deletes)
		if err != nil {
			return err
		}
		report.Deleted += int(n)
	}

	return s.forget(ctx, target, liked, unliked)
}

// forget removes exactly the scanned members. Members added after the scan
// stay for the next pass.
func (s *Sweeper) forget(ctx context.Context, target string, liked, unliked []string) error {
	var errs *multierror.Error
	if len(liked) > 0 {
		if err := s.state.RemoveMembers(ctx, ephemeral.LikedKey(target), liked...); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if len(unliked) > 0 {
		if err := s.state.RemoveMembers(ctx, ephemeral.UnlikedKey(target), unliked...); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// resetIdleCounters drops live counters for targets with no pending members
// left. Durable rows are authoritative for those targets, and the next
// toggle reseeds the counter from them.
func (s *Sweeper) resetIdleCounters(ctx context.Context, report *Report) error {
	keys, err := s.state.Keys(ctx, ephemeral.LikeCountPrefix)
	if err != nil {
		return fmt.Errorf("scan counters: %w", err)
	}

	var idle []string
	for _, key := range keys {
		target, ok := ephemeral.TargetFromKey(key, ephemeral.LikeCountPrefix)
		if !ok {
			continue
		}
		pending, err := s.hasPending(ctx, target)
		if err != nil {
			return fmt.Errorf("counter %s: %w", target, err)
		}
		if !pending {
			idle = append(idle, key)
		}
	}
	if len(idle) == 0 {
		return nil
	}
	if err := s.state.Delete(ctx, idle...); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	report.CountersReset = len(idle)
	return nil
}

func (s *Sweeper) hasPending(ctx context.Context, target string) (bool, error) {
	for _, key := range []string{ephemeral.LikedKey(target), ephemeral.UnlikedKey(target)} {
		members, err := s.state.Members(ctx, key)
		if err != nil {
			return false, err
		}
		if len(members) > 0 {
			return true, nil
		}
	}
	return false, nil
}
