//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/xo/internal/api"
	"github.com/victornm/xo/internal/domain"
)

const (
	httpAddr = "http://localhost:8080"
	grpcAddr = "localhost:8081"
	prefix   = "xo"
)

// TestTournament runs a round robin between a few players against a locally running server
// and prints every leaderboard broadcast.
func TestTournament(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checkHealth(ctx, t)

	wg := new(sync.WaitGroup)
	subscribeLeaderboard(t, makeRedis(t), wg)

	run := uuid.NewString()[:8]
	players := make([]api.User, 0, 4)
	for _, n := range []string{"ann", "bob", "cid", "dee"} {
		var u api.User
		err := call(ctx, http.MethodPost, "/v1/users", map[string]any{
			"username": fmt.Sprintf("%s-%s", n, run),
			"email":    fmt.Sprintf("%s-%s@example.com", n, run),
		}, &u)
		require.NoError(t, err)
		players = append(players, u)
	}

	// Every pair plays one game; X always takes the top row.
	var eg errgroup.Group
	for i := range players {
		for j := i + 1; j < len(players); j++ {
			x, o := players[i], players[j]
			eg.Go(func() error {
				var ss api.Session
				if err := call(ctx, http.MethodPost, "/v1/sessions", map[string]any{"player_x_id": x.ID, "player_o_id": o.ID}, &ss); err != nil {
					return err
				}

				var res api.MoveResponse
				for k, cell := range []int{0, 3, 1, 4, 2} {
					p := x.ID
					if k%2 == 1 {
						p = o.ID
					}
					if err := call(ctx, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/moves", ss.ID), map[string]any{"player_id": p, "cell": cell}, &res); err != nil {
						return err
					}
				}

				if res.Session.Winner != "X" {
					return fmt.Errorf("session %d: winner=%q", ss.ID, res.Session.Winner)
				}
				t.Logf("%s beat %s: +%d", x.Username, o.Username, res.Results[0].Score.Total)
				return nil
			})
		}
	}
	require.NoError(t, eg.Wait())

	var lb api.Leaderboard
	require.NoError(t, call(ctx, http.MethodGet, "/v1/leaderboard?limit=100", nil, &lb))
	t.Logf("final leaderboard:\n%s", formatLeaderboard(lb))

	time.Sleep(time.Second)
	wg.Wait()
}

func call(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, httpAddr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: status=%d reason=%s message=%s", method, path, resp.StatusCode, e.Error.Reason, e.Error.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func checkHealth(ctx context.Context, t *testing.T) {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func subscribeLeaderboard(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, prefix+":leaderboard")
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.Leaderboard
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal leaderboard: %v", err)
					continue
				}

				t.Logf("leaderboard broadcast:\n%s", formatLeaderboard(l))
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		// Listen a little longer than the tournament takes.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%3d %s: %d (won %d/%d)\n", e.Rank, e.Username, e.TotalScore, e.GamesWon, e.GamesPlayed)
	}
	return s
}
