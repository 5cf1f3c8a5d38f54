package relay

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqirelay/internal/airquality"
)

// FetchFailedMessage is the reply for every failure other than an unknown city.
const FetchFailedMessage = "Could not fetch AQI"

// Conn is the subset of *websocket.Conn used by a session.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Resolver produces a report for a city. *airquality.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, city string) (*airquality.Report, error)
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	// ID identifies the connection in logs.
	ID string

	// Conn is the client connection.
	Conn Conn

	// Resolver answers queries.
	Resolver Resolver

	// Logger for connection events.
	Logger zerolog.Logger

	// Metrics records connection and reply metrics (optional).
	Metrics *Metrics
}

// Session owns one client connection for its lifetime.
//
// Each query is resolved in its own goroutine as soon as it arrives, so a
// slow query never blocks receipt of the next one. Replies are written in the
// order queries were received: every reply waits for the previous reply to be
// written first. That keeps a single writer on the connection and lets the
// client pair replies with queries by position.
type Session struct {
	id       string
	conn     Conn
	resolver Resolver
	logger   zerolog.Logger
	metrics  *Metrics

	mu        sync.Mutex
	lifecycle Lifecycle

	// tail is closed once the most recently queued reply has been written.
	tail    chan struct{}
	pending sync.WaitGroup
}

// NewSession creates a session for an accepted connection.
func NewSession(cfg SessionConfig) *Session {
	tail := make(chan struct{})
	close(tail)

	return &Session{
		id:       cfg.ID,
		conn:     cfg.Conn,
		resolver: cfg.Resolver,
		logger:   cfg.Logger.With().Str("conn_id", cfg.ID).Logger(),
		metrics:  cfg.Metrics,
		tail:     tail,
	}
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Run reads queries until the connection closes. Queries still being
// resolved when Run returns finish in the background; their replies are
// discarded. ctx is used for resolution and should not be tied to the
// connection lifetime.
func (s *Session) Run(ctx context.Context) {
	if err := s.fire(EventConnected); err != nil {
		s.logger.Error().Err(err).Msg("session already started")
		return
	}
	s.metrics.connectionOpened()
	s.logger.Info().Msg("client connected")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			break
		}

		city := strings.TrimSpace(string(data))
		s.logger.Info().Str("city", city).Msg("received city")

		if err := s.fire(EventMessage); err != nil {
			s.logger.Error().Err(err).Msg("dropping message")
			continue
		}

		prev := s.tail
		done := make(chan struct{})
		s.tail = done

		s.pending.Add(1)
		go s.process(ctx, city, prev, done)
	}

	_ = s.fire(EventClosed) //nolint:errcheck // Closed is reachable from every live state
	_ = s.conn.Close()
	s.metrics.connectionClosed()
	s.logger.Info().Msg("client disconnected")
}

// Wait blocks until every reply queued by Run has been written or dropped.
func (s *Session) Wait() {
	s.pending.Wait()
}

// Reply resolves city and returns the one report that answers it. It never
// returns nil and never panics.
func (s *Session) Reply(ctx context.Context, city string) (report *airquality.Report) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("error", r).
				Str("stack", string(debug.Stack())).
				Str("city", city).
				Msg("panic recovered while resolving")
			report = airquality.NewErrorReport(FetchFailedMessage)
		}
	}()

	report, err := s.resolver.Resolve(ctx, city)
	if err == nil && report != nil {
		return report
	}

	var notFound *airquality.CityNotFoundError
	if errors.As(err, &notFound) {
		return airquality.NewErrorReport(`City "` + notFound.City + `" not found.`)
	}

	return airquality.NewErrorReport(FetchFailedMessage)
}

func (s *Session) process(ctx context.Context, city string, prev <-chan struct{}, done chan<- struct{}) {
	defer s.pending.Done()
	defer close(done)

	start := time.Now()
	report := s.Reply(ctx, city)
	s.metrics.replyProduced(outcome(report), time.Since(start))

	<-prev

	s.send(report)

	if err := s.fire(EventReplied); err != nil && !errors.Is(err, ErrConnectionClosed) {
		s.logger.Error().Err(err).Msg("unexpected reply")
	}
}

// send writes report to the connection. Failures, typically a connection
// closed by the peer, are logged and dropped.
func (s *Session) send(report *airquality.Report) {
	data, err := report.MarshalJSON()
	if err != nil {
		s.logger.Error().Err(err).Msg("encoding reply")
		data, _ = airquality.NewErrorReport(FetchFailedMessage).MarshalJSON() //nolint:errcheck // constant shape
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.metrics.replyDropped()
		s.logger.Debug().Err(err).Msg("dropping reply for closed connection")
	}
}

func (s *Session) fire(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.lifecycle.Next(e)
	if err != nil {
		return err
	}
	s.lifecycle = next
	return nil
}

func (s *Session) logReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug().Err(err).Msg("connection closed unexpectedly")
	}
}

func outcome(report *airquality.Report) string {
	switch {
	case !report.IsError():
		return OutcomeOK
	case report.Error == FetchFailedMessage:
		return OutcomeFetchFailed
	default:
		return OutcomeCityNotFound
	}
}
