package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/leaderboard"
)

const (
	maxConcurrent         = 100
	defaultThrottleWindow = 200 * time.Millisecond
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishSessionUpdated sends the new session state to both players.
func (a *API) PublishSessionUpdated(ctx context.Context, e domain.EventSessionUpdated) error {
	data := toSession(&e.Session)

	var eg errgroup.Group
	for _, p := range []int64{e.Session.PlayerX.UserID, e.Session.PlayerO.UserID} {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(p), e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishLeaderboardUpdated sends each changed entry to its owner, then broadcasts the first page
// of the leaderboard. Broadcasts are throttled to one per window; entries are always sent.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for i := range e.Entries {
		entry := toEntry(&e.Entries[i])
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.UserID), e.Name(), entry)
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	ok, err := a.redis.SetNX(ctx, a.prefix+":leaderboard:throttle", 1, a.throttle).Result()
	if err != nil {
		return fmt.Errorf("pubsub: throttle leaderboard: %w", err)
	}
	if !ok {
		slog.DebugContext(ctx, "pubsub: leaderboard broadcast throttled")
		return nil
	}

	req := leaderboard.RankRequest{}
	entries, err := a.game.GetLeaderboard(ctx, req)
	if err != nil {
		return fmt.Errorf("pubsub: get leaderboard: %w", err)
	}

	return a.publishNotification(ctx, a.prefix+":leaderboard", e.Name(), Leaderboard{
		Entries: toEntries(entries),
		Limit:   req.PageSize(),
		SortBy:  string(domain.SortByTotalScore),
	})
}

func (a *API) userChannel(id int64) string {
	return fmt.Sprintf("%s:user:%d", a.prefix, id)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
