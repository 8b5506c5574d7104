package subscriber

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tsangwailam/mcclaw/internal/activity"
)

// Stream is an open live connection.
type Stream interface {
	// Read blocks until the next frame arrives or the stream fails.
	Read() ([]byte, error)
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// FetchFunc loads the latest records while polling.
type FetchFunc func(ctx context.Context) ([]activity.Record, error)

// Options tune reconnect and polling behavior.
type Options struct {
	MaxFailures    int
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	PollInterval   time.Duration
	FeedSize       int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		MaxFailures:    DefaultMaxFailures,
		ConnectTimeout: 5 * time.Second,
		RetryDelay:     3 * time.Second,
		PollInterval:   10 * time.Second,
		FeedSize:       DefaultFeedSize,
	}
}

// Subscriber drives a Machine with real connections and timers.
type Subscriber struct {
	url     string
	dialer  Dialer
	fetch   FetchFunc
	opts    Options
	logger  *slog.Logger
	feed    *Feed
	machine *Machine

	// OnState is called after every state change.
	OnState func(State)
	// OnRecord is called for each record merged from the stream.
	OnRecord func(activity.Record)
	// OnPoll is called with the feed after every successful poll.
	OnPoll func([]activity.Record)

	events       chan event
	done         chan struct{}
	stopOnce     sync.Once
	attempt      int
	conn         Stream
	cancelDial   context.CancelFunc
	connectTimer *time.Timer
	retryTimer   *time.Timer
}

// event is an Event tagged with the connection attempt it belongs to, so
// late results from an abandoned attempt can be discarded.
type event struct {
	Event
	attempt int
	stream  Stream
}

// New creates a subscriber for url. fetch is used once the stream has been
// given up on.
func New(url string, dialer Dialer, fetch FetchFunc, opts Options, logger *slog.Logger) *Subscriber {
	def := DefaultOptions()
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:     url,
		dialer:  dialer,
		fetch:   fetch,
		opts:    opts,
		logger:  logger,
		feed:    NewFeed(opts.FeedSize),
		machine: NewMachine(opts.MaxFailures),
		events:  make(chan event, 16),
		done:    make(chan struct{}),
	}
}

func (s *Subscriber) Feed() *Feed { return s.feed }

// Run connects and processes events until ctx is cancelled. Once polling
// has taken over it keeps polling until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	defer s.teardown()

	s.step(ctx, event{Event: Event{Kind: EventStart}, attempt: s.attempt})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if ev.attempt != s.attempt {
				if ev.stream != nil {
					ev.stream.Close()
				}
				continue
			}
			if s.step(ctx, ev) {
				s.teardown()
				return s.poll(ctx)
			}
		}
	}
}

// step feeds ev to the machine and executes the resulting effects. It
// reports whether polling should take over.
func (s *Subscriber) step(ctx context.Context, ev event) bool {
	switch ev.Kind {
	case EventOpened:
		s.conn = ev.stream
	case EventClosed:
		// Whatever the machine decides, this attempt is over.
		s.closeConn()
	}

	before := s.machine.State()
	effects := s.machine.Step(ev.Event)
	after := s.machine.State()

	fallback := false
	for _, eff := range effects {
		switch eff.Kind {
		case EffectDial:
			s.dial(ctx)
		case EffectStartConnectTimer:
			s.connectTimer = s.after(s.opts.ConnectTimeout, EventConnectTimeout)
		case EffectStopConnectTimer:
			stopTimer(&s.connectTimer)
		case EffectStartRetryTimer:
			s.retryTimer = s.after(s.opts.RetryDelay, EventRetryTimer)
		case EffectStopRetryTimer:
			stopTimer(&s.retryTimer)
		case EffectCloseConn:
			s.closeConn()
		case EffectEnterFallback:
			fallback = true
		case EffectMergeRecord:
			s.feed.Merge(*eff.Record)
			if s.OnRecord != nil {
				s.OnRecord(*eff.Record)
			}
		}
	}

	if before != after {
		s.logger.Debug("Live stream state changed",
			"from", before.String(),
			"to", after.String(),
			"failures", s.machine.Failures())
		if after == Connected {
			go s.readLoop(s.conn, s.attempt)
		}
		if s.OnState != nil {
			s.OnState(after)
		}
	}
	return fallback
}

func (s *Subscriber) dial(ctx context.Context) {
	s.attempt++
	attempt := s.attempt

	dialCtx, cancel := context.WithCancel(ctx)
	s.cancelDial = cancel

	go func() {
		stream, err := s.dialer.Dial(dialCtx, s.url)
		if err != nil {
			s.logger.Debug("Live stream dial failed", "url", s.url, "error", err)
			s.emit(event{Event: Event{Kind: EventClosed}, attempt: attempt})
			return
		}
		s.emit(event{Event: Event{Kind: EventOpened}, attempt: attempt, stream: stream})
	}()
}

func (s *Subscriber) readLoop(stream Stream, attempt int) {
	for {
		data, err := stream.Read()
		if err != nil {
			s.emit(event{Event: Event{Kind: EventClosed}, attempt: attempt})
			return
		}
		s.emit(event{Event: Event{Kind: EventMessage, Data: data}, attempt: attempt})
	}
}

// emit delivers ev unless Run has returned.
func (s *Subscriber) emit(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.stream != nil {
			ev.stream.Close()
		}
	}
}

func (s *Subscriber) after(d time.Duration, kind EventKind) *time.Timer {
	attempt := s.attempt
	return time.AfterFunc(d, func() {
		select {
		case s.events <- event{Event: Event{Kind: kind}, attempt: attempt}:
		default:
		}
	})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// closeConn abandons the current attempt: pending dials are cancelled and
// any late events from it are ignored.
func (s *Subscriber) closeConn() {
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.attempt++
}

func (s *Subscriber) teardown() {
	s.stopOnce.Do(func() {
		close(s.done)
		stopTimer(&s.connectTimer)
		stopTimer(&s.retryTimer)
		s.closeConn()
	})
}

// poll refreshes the feed immediately and then on every interval.
func (s *Subscriber) poll(ctx context.Context) error {
	s.logger.Info("Live stream unavailable, polling for activity",
		"url", s.url,
		"attempts", s.machine.Failures(),
		"interval", s.opts.PollInterval)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		s.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Subscriber) pollOnce(ctx context.Context) {
	if s.fetch == nil {
		return
	}
	records, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("Polling for activity failed", "error", err)
		return
	}
	s.feed.Replace(records)
	if s.OnPoll != nil {
		s.OnPoll(s.feed.Snapshot())
	}
}

// WebsocketDialer dials streams with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (w wsStream) Read() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w wsStream) Close() error { return w.conn.Close() }
