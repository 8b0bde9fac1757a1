// Package feed composes a viewer's home feed from two pools: recent posts by
// people the viewer follows, and trending public posts. Every post served is
// remembered in the viewer's seen set so it is not served again until the
// set expires.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/store"
)

const (
	DefaultLimit           = 20
	DefaultSeenTTL         = 24 * time.Hour
	DefaultFollowingWindow = 24 * time.Hour
	DefaultFollowingPage   = 10
)

var ErrInvalidPage = errors.New("page must not be negative")

// Source names the pool an item came from.
type Source string

const (
	SourceFollowing Source = "following"
	SourceTrending  Source = "trending"
)

// Item is one post in a composed feed. LikeCount reflects the live counter
// when one exists.
type Item struct {
	store.PostSummary
	Source Source
}

// Store is the durable side of the composer.
type Store interface {
	AcceptedFollowing(ctx context.Context, followerID string) ([]string, error)
	FollowingPosts(ctx context.Context, q store.FollowingQuery) ([]store.PostSummary, error)
	TrendingPosts(ctx context.Context, q store.TrendingQuery) ([]store.PostSummary, error)
}

// Composer builds paged feeds from followed, trending and fallback posts.
type Composer struct {
	store  Store
	state  ephemeral.Store
	clock  clockwork.Clock
	logger logrus.FieldLogger

	metrics         *metrics.Metrics
	defaultLimit    int
	seenTTL         time.Duration
	followingWindow time.Duration
	followingPage   int

	// rand is not safe for concurrent use.
	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Composer.
type Option func(*Composer)

// WithRand fixes the shuffle source. A seeded source makes Compose
// deterministic.
func WithRand(r *rand.Rand) Option {
	return func(c *Composer) { c.rand = r }
}

// WithClock sets the clock used for post age windows.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Composer) { c.clock = clock }
}

// WithMetrics records served items per source.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Composer) { c.metrics = m }
}

// WithDefaultLimit sets the page size used when Compose is called with a
// non-positive limit.
func WithDefaultLimit(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.defaultLimit = n
		}
	}
}

// WithSeenTTL sets how long served post ids are remembered per viewer.
func WithSeenTTL(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.seenTTL = d
		}
	}
}

// WithFollowingWindow sets the age limit for posts from followed users.
func WithFollowingWindow(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.followingWindow = d
		}
	}
}

// WithFollowingPage sets how many following posts one page takes. It is also
// the page stride for the following pool's offset.
func WithFollowingPage(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.followingPage = n
		}
	}
}

// NewComposer returns a Composer reading posts from s and seen-post
// memory from state.
func NewComposer(s Store, state ephemeral.Store, logger logrus.FieldLogger, opts ...Option) *Composer {
	c := &Composer{
		store:           s,
		state:           state,
		clock:           clockwork.NewRealClock(),
		logger:          logger.WithField("component", "feed"),
		defaultLimit:    DefaultLimit,
		seenTTL:         DefaultSeenTTL,
		followingWindow: DefaultFollowingWindow,
		followingPage:   DefaultFollowingPage,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rand == nil {
		c.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Compose builds page number page of viewerID's feed with at most limit
// items. Items served are added to the viewer's seen set.
func (c *Composer) Compose(ctx context.Context, viewerID string, page, limit int) ([]Item, error) {
	if page < 0 {
		return nil, ErrInvalidPage
	}
	if limit <= 0 {
		limit = c.defaultLimit
	}
	seenKey := ephemeral.SeenKey(viewerID)

	seen, err := c.state.Members(ctx, seenKey)
	if err != nil {
		return nil, fmt.Errorf("compose: read seen set: %w", err)
	}
	following, err := c.followingIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	followingPosts, err := c.store.FollowingPosts(ctx, store.FollowingQuery{
		AuthorIDs: following,
		Since:     c.clock.Now().Add(-c.followingWindow),
		Exclude:   seen,
		Offset:    page * c.followingPage,
		Limit:     min(c.followingPage, limit),
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	if err := c.markSeen(ctx, seenKey, followingPosts); err != nil {
		return nil, err
	}

	exclude := slices.Concat(seen, postIDs(followingPosts))
	trendingPosts, err := c.store.TrendingPosts(ctx, store.TrendingQuery{
		Exclude: exclude,
		Limit:   limit - len(followingPosts),
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	if err := c.markSeen(ctx, seenKey, trendingPosts); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(followingPosts)+len(trendingPosts))
	for _, p := range followingPosts {
		items = append(items, Item{PostSummary: p, Source: SourceFollowing})
	}
	for _, p := range trendingPosts {
		items = append(items, Item{PostSummary: p, Source: SourceTrending})
	}
	if err := c.overrideCounts(ctx, items); err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	c.shuffle(items)

	c.metrics.FeedItems(string(SourceFollowing), len(followingPosts))
	c.metrics.FeedItems(string(SourceTrending), len(trendingPosts))
	c.logger.WithFields(logrus.Fields{
		"viewer":    viewerID,
		"page":      page,
		"following": len(followingPosts),
		"trending":  len(trendingPosts),
	}).Debug("feed composed")
	return items, nil
}

// followingIDs is the durable accepted edges plus pending follows, minus
// pending unfollows.
func (c *Composer) followingIDs(ctx context.Context, viewerID string) ([]string, error) {
	accepted, err := c.store.AcceptedFollowing(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	pending, err := c.state.Members(ctx, ephemeral.FollowingKey(viewerID))
	if err != nil {
		return nil, fmt.Errorf("read pending follows: %w", err)
	}
	unfollowing, err := c.state.Members(ctx, ephemeral.UnfollowingKey(viewerID))
	if err != nil {
		return nil, fmt.Errorf("read pending unfollows: %w", err)
	}

	drop := make(map[string]struct{}, len(unfollowing))
	for _, id := range unfollowing {
		drop[id] = struct{}{}
	}
	ids := make([]string, 0, len(accepted)+len(pending))
	for _, id := range slices.Concat(accepted, pending) {
		if _, ok := drop[id]; ok {
			continue
		}
		drop[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Composer) markSeen(ctx context.Context, key string, posts []store.PostSummary) error {
	if len(posts) == 0 {
		return nil
	}
	if err := c.state.AddMembersTTL(ctx, key, c.seenTTL, postIDs(posts)...); err != nil {
		return fmt.Errorf("compose: update seen set: %w", err)
	}
	return nil
}

func (c *Composer) overrideCounts(ctx context.Context, items []Item) error {
	for i := range items {
		n, ok, err := c.state.Count(ctx, ephemeral.LikeCountKey(items[i].ID))
		if err != nil {
			return fmt.Errorf("read like counter %s: %w", items[i].ID, err)
		}
		if ok {
			items[i].LikeCount = n
		}
	}
	return nil
}

func (c *Composer) shuffle(items []Item) {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	c.rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

func postIDs(posts []store.PostSummary) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
