// Package api exposes the game over HTTP and fans session and leaderboard changes out to Redis pubsub.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"

	"github.com/victornm/xo/internal/domain"
	"github.com/victornm/xo/internal/errors"
	"github.com/victornm/xo/internal/event"
	"github.com/victornm/xo/internal/game"
	"github.com/victornm/xo/internal/leaderboard"
	"github.com/victornm/xo/internal/session"
	"github.com/victornm/xo/internal/user"
)

const (
	headerRequestID = "X-Request-ID"
	keyRequestID    = "request_id"
)

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus
	Game     *game.Service

	// Redis is optional. Without it no notifications are published.
	Redis          Redis
	PubsubPrefix   string
	ThrottleWindow time.Duration
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

type API struct {
	game *game.Service

	redis    Redis
	prefix   string
	throttle time.Duration
}

func New(c Config) *API {
	a := &API{
		game:     c.Game,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
		throttle: c.ThrottleWindow,
	}
	if a.throttle <= 0 {
		a.throttle = defaultThrottleWindow
	}

	a.register(c.Router)

	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameSessionUpdated, event.On(a.PublishSessionUpdated))
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, event.On(a.PublishLeaderboardUpdated))
	}

	return a
}

func (a *API) register(r gin.IRouter) {
	v1 := r.Group("/v1", requestID)

	v1.POST("/users", a.RegisterUser)
	v1.GET("/users", a.FindUser)
	v1.GET("/users/:id", a.GetUser)
	v1.GET("/users/:id/leaderboard", a.GetLeaderboardEntry)

	v1.POST("/sessions", a.CreateSession)
	v1.GET("/sessions/:id", a.GetSession)
	v1.POST("/sessions/:id/moves", a.MakeMove)
	v1.POST("/sessions/:id/abandon", a.AbandonSession)
	v1.POST("/sessions/:id/score", a.ScoreSession)
	v1.GET("/sessions/:id/scores", a.ListScores)

	v1.GET("/leaderboard", a.GetLeaderboard)
	v1.GET("/leaderboard/summary", a.GetLeaderboardSummary)
	v1.GET("/stats", a.GetGameStats)
}

func (a *API) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if !bind(c, &req) {
		return
	}

	u, err := a.game.RegisterUser(c.Request.Context(), user.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toUser(u))
}

func (a *API) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	u, err := a.game.GetUser(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUser(u))
}

// FindUser looks a user up by ?username=.
func (a *API) FindUser(c *gin.Context) {
	name := c.Query("username")
	if name == "" {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("username is required")))
		return
	}

	u, err := a.game.FindUser(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUser(u))
}

func (a *API) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if !bind(c, &req) {
		return
	}

	ss, err := a.game.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		PlayerXID: req.PlayerXID,
		PlayerOID: req.PlayerOID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSession(ss))
}

func (a *API) GetSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	ss, err := a.game.GetSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(ss))
}

func (a *API) MakeMove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req makeMoveRequest
	if !bind(c, &req) {
		return
	}
	if req.Cell == nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidMove),
			errors.WithMessagef("cell is required"),
		))
		return
	}

	res, err := a.game.MakeMove(c.Request.Context(), session.MakeMoveRequest{
		SessionID: id,
		PlayerID:  req.PlayerID,
		Cell:      *req.Cell,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := MoveResponse{Session: toSession(res.Session)}
	if len(res.Results) > 0 {
		resp.Results = toResults(res.Results)
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) AbandonSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req abandonSessionRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	ss, err := a.game.AbandonSession(c.Request.Context(), session.AbandonSessionRequest{
		SessionID: id,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(ss))
}

func (a *API) ScoreSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := a.game.ScoreSession(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreResponse{
		Duplicate: res.Duplicate,
		Results:   toResults(res.Results),
	})
}

func (a *API) ListScores(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	rs, err := a.game.ListScores(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": toResults(rs)})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}

	req := leaderboard.RankRequest{
		Limit:  limit,
		Offset: offset,
		SortBy: c.Query("sort_by"),
	}

	entries, err := a.game.GetLeaderboard(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	by, _ := domain.ParseSortBy(req.SortBy)
	c.JSON(http.StatusOK, Leaderboard{
		Entries: toEntries(entries),
		Limit:   req.PageSize(),
		Offset:  req.Offset,
		SortBy:  string(by),
	})
}

func (a *API) GetLeaderboardEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	e, err := a.game.GetLeaderboardEntry(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEntry(e))
}

func (a *API) GetLeaderboardSummary(c *gin.Context) {
	sum, err := a.game.GetLeaderboardSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSummary(sum))
}

func (a *API) GetGameStats(c *gin.Context) {
	st, err := a.game.GetGameStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toGameStats(st))
}

// requestID tags the request with the caller's X-Request-ID or a fresh UUIDv7.
func requestID(c *gin.Context) {
	id := c.GetHeader(headerRequestID)
	if id == "" {
		if u, err := uuid.NewV7(); err == nil {
			id = u.String()
		}
	}

	c.Set(keyRequestID, id)
	c.Header(headerRequestID, id)

	start := time.Now()
	c.Next()

	slog.DebugContext(c.Request.Context(), "api: request handled",
		"request_id", id,
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"took", time.Since(start),
	)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body: %v", err),
			errors.WithCause(err),
		))
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid id: %q", c.Param("id"))))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid %s: %q", key, v)))
		return 0, false
	}
	return n, true
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"request_id", c.GetString(keyRequestID),
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{
		Error: ErrorBody{
			Code:      codes.Code(e.Code).String(),
			Reason:    string(e.Reason),
			Message:   e.Message,
			RequestID: c.GetString(keyRequestID),
		},
	})
}
