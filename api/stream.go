package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const clientBuffer = 16

// Broker fans change events out to the stream connections of their owner.
// It implements domain.Publisher. Slow clients drop events instead of
// blocking publishers.
type Broker struct {
	mu      sync.Mutex
	clients map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{clients: map[string]map[chan domain.Event]struct{}{}}
}

func (b *Broker) Publish(_ context.Context, ev domain.Event) error {
	b.broadcast(ev)
	return nil
}

func (b *Broker) subscribe(ownerID string) chan domain.Event {
	ch := make(chan domain.Event, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.clients[ownerID]
	if !ok {
		set = map[chan domain.Event]struct{}{}
		b.clients[ownerID] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (b *Broker) unsubscribe(ownerID string, ch chan domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.clients[ownerID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.clients, ownerID)
		}
	}
}

func (b *Broker) broadcast(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients[ev.OwnerID] {
		select {
		case ch <- ev:
		default:
			log.WithFields(log.Fields{"owner": ev.OwnerID, "event": ev.Type}).Warn("stream client lagging; event dropped")
		}
	}
}

// Clients returns the number of open stream connections of ownerID.
func (b *Broker) Clients(ownerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients[ownerID])
}

// streamEvents serves the caller's change events as server-sent events.
func streamEvents(broker *Broker, heartbeat time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := userID(c)
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Streaming unsupported"})
		}

		ch := broker.subscribe(owner)
		defer broker.unsubscribe(owner, ch)

		res.WriteHeader(http.StatusOK)
		if _, err := res.Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := res.Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case ev := <-ch:
				data, err := sonic.Marshal(ev)
				if err != nil {
					log.WithError(err).WithField("event", ev.Type).Error("encode stream event")
					continue
				}
				if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
