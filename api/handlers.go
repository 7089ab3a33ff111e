package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const (
	maxBodySize      = 1 << 20
	defaultHeartbeat = 30 * time.Second
	healthTimeout    = 2 * time.Second
)

// Server bundles the dependencies of the HTTP surface.
type Server struct {
	Boards    BoardService
	Todos     TodoService
	Auth      Authenticator
	Broker    *Broker
	Health    Pinger
	Deduper   Deduper
	Logger    *log.Logger
	Heartbeat time.Duration
	// RateLimit is the per-user requests per second; zero disables it.
	RateLimit float64
	RateBurst int
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	if s.Heartbeat <= 0 {
		s.Heartbeat = defaultHeartbeat
	}
	e.JSONSerializer = SonicSerializer{}

	e.GET("/healthz", healthz(s.Health))

	observe := observeRequests(s.Logger)
	g := e.Group("/api", observe, GzipRequestMiddleware(), requireUser(s.Auth, false))
	if s.RateLimit > 0 {
		g.Use(rateLimit(s.RateLimit, s.RateBurst))
	}
	dedupe := idempotent(s.Deduper)

	g.GET("/boards", listBoards(s.Boards))
	g.POST("/boards", createBoard(s.Boards), dedupe)
	g.GET("/boards/:id", getBoard(s.Boards))
	g.PUT("/boards/:id", updateBoard(s.Boards))
	g.DELETE("/boards/:id", deleteBoard(s.Boards))

	g.GET("/boards/:boardId/todos", listTodos(s.Todos))
	g.POST("/boards/:boardId/todos", createTodo(s.Todos), dedupe)
	g.GET("/boards/:boardId/summary", boardSummary(s.Todos))

	g.GET("/todos/:id", getTodo(s.Todos))
	g.PUT("/todos/:id", updateTodo(s.Todos))
	g.DELETE("/todos/:id", deleteTodo(s.Todos))
	g.PUT("/todos/:id/order", setTodoOrder(s.Todos))

	if s.Broker != nil {
		e.GET("/api/stream", streamEvents(s.Broker, s.Heartbeat), observe, requireUser(s.Auth, true))
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

func healthz(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p == nil {
			return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			log.WithError(err).Warn("health check failed")
			return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "unavailable"})
		}
		return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
	}
}

// decodeBody reads a JSON request body into dst through the echo JSON
// serializer. A blank body leaves dst untouched; anything else must be a
// complete document.
func decodeBody(c echo.Context, dst any) error {
	req := c.Request()
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return domain.NewValidationError("body", "Invalid JSON body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(raw))
	if err := c.Echo().JSONSerializer.Deserialize(c, dst); err != nil {
		return domain.NewValidationError("body", "Invalid JSON body")
	}
	return nil
}

// call runs a service operation and records its duration.
func call(c echo.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(c.Request().Context())
	metricsFrom(c).ObserveService(time.Since(start))
	return err
}

func listBoards(boards BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var out []domain.Board
		err := call(c, func(ctx context.Context) (err error) {
			out, err = boards.List(ctx, userID(c))
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		metricsFrom(c).SetItemsReturned(len(out))
		return c.JSON(http.StatusOK, out)
	}
}

func getBoard(boards BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var b domain.Board
		err := call(c, func(ctx context.Context) (err error) {
			b, err = boards.Get(ctx, userID(c), c.Param("id"))
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, b)
	}
}

func createBoard(boards BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.BoardInput
		if err := decodeBody(c, &in); err != nil {
			return respondError(c, err)
		}
		var b domain.Board
		err := call(c, func(ctx context.Context) (err error) {
			b, err = boards.Create(ctx, userID(c), in)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, b)
	}
}

func updateBoard(boards BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.BoardPatch
		if err := decodeBody(c, &patch); err != nil {
			return respondError(c, err)
		}
		var b domain.Board
		err := call(c, func(ctx context.Context) (err error) {
			b, err = boards.Update(ctx, userID(c), c.Param("id"), patch)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, b)
	}
}

func deleteBoard(boards BoardService) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := call(c, func(ctx context.Context) error {
			return boards.Delete(ctx, userID(c), c.Param("id"))
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Board deleted successfully"})
	}
}

func listTodos(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var filter domain.TodoFilter
		if raw := c.QueryParam("status"); raw != "" {
			st := domain.Status(raw)
			filter.Status = &st
		}
		var out []domain.Todo
		err := call(c, func(ctx context.Context) (err error) {
			out, err = todos.ListByBoard(ctx, userID(c), c.Param("boardId"), filter)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		metricsFrom(c).SetItemsReturned(len(out))
		return c.JSON(http.StatusOK, out)
	}
}

func boardSummary(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var sum domain.Summary
		err := call(c, func(ctx context.Context) (err error) {
			sum, err = todos.Summary(ctx, userID(c), c.Param("boardId"))
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, sum)
	}
}

func getTodo(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var t domain.Todo
		err := call(c, func(ctx context.Context) (err error) {
			t, err = todos.Get(ctx, userID(c), c.Param("id"))
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func createTodo(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.TodoInput
		if err := decodeBody(c, &in); err != nil {
			return respondError(c, err)
		}
		var t domain.Todo
		err := call(c, func(ctx context.Context) (err error) {
			t, err = todos.Create(ctx, userID(c), c.Param("boardId"), in)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func updateTodo(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TodoPatch
		if err := decodeBody(c, &patch); err != nil {
			return respondError(c, err)
		}
		var t domain.Todo
		err := call(c, func(ctx context.Context) (err error) {
			t, err = todos.Update(ctx, userID(c), c.Param("id"), patch)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

type orderRequest struct {
	Order *int `json:"order"`
}

func setTodoOrder(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req orderRequest
		if err := decodeBody(c, &req); err != nil {
			return respondError(c, err)
		}
		var t domain.Todo
		err := call(c, func(ctx context.Context) (err error) {
			t, err = todos.SetOrder(ctx, userID(c), c.Param("id"), req.Order)
			return err
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTodo(todos TodoService) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := call(c, func(ctx context.Context) error {
			return todos.Delete(ctx, userID(c), c.Param("id"))
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Todo deleted successfully"})
	}
}
