package handlers

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/pkg/logger"
)

// FlaggedEvent is pushed to connected experts whenever a question enters or
// climbs the review queue.
type FlaggedEvent struct {
	QuestionID      string    `json:"question_id"`
	Question        string    `json:"question"`
	Language        string    `json:"language"`
	ConfidenceScore float64   `json:"confidence_score"`
	FrequencyCount  int       `json:"frequency_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// FlaggedFeed fans flagged-question events out to websocket subscribers.
// Slow subscribers drop events instead of blocking the pipeline.
type FlaggedFeed struct {
	mu          sync.Mutex
	subscribers map[chan FlaggedEvent]struct{}
}

func NewFlaggedFeed() *FlaggedFeed {
	return &FlaggedFeed{
		subscribers: make(map[chan FlaggedEvent]struct{}),
	}
}

func (f *FlaggedFeed) Publish(event FlaggedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (f *FlaggedFeed) subscribe() chan FlaggedEvent {
	ch := make(chan FlaggedEvent, 16)
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *FlaggedFeed) unsubscribe(ch chan FlaggedEvent) {
	f.mu.Lock()
	delete(f.subscribers, ch)
	f.mu.Unlock()
}

// HandleConnection streams flagged-question events to one expert client
// until the client disconnects.
func (f *FlaggedFeed) HandleConnection(c *websocket.Conn) {
	logger.Info("Expert feed connection established", zap.String("remote", c.RemoteAddr().String()))

	ch := f.subscribe()
	done := make(chan struct{})

	defer func() {
		f.unsubscribe(ch)
		c.Close()
		logger.Info("Expert feed connection closed")
	}()

	// Drain reads so close frames and pings are processed.
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-ch:
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write feed event", zap.Error(err))
				return
			}
		}
	}
}
