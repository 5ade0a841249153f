package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskmate/internal/models"
	"taskmate/internal/utils"
)

// ErrNotConnected is returned when the push endpoint cannot be reached or
// rejects the STOMP handshake.
var ErrNotConnected = errors.New("push channel not connected")

type Topic string

const (
	TopicTaskCreated       Topic = "task-created"
	TopicTaskStatusChanged Topic = "task-status-changed"
	TopicTaskAssigned      Topic = "task-assigned"
)

// Destinations maps topics to STOMP destinations on the broker.
type Destinations struct {
	Tasks           string
	TaskStatus      string
	UserQueuePrefix string
}

var DefaultDestinations = Destinations{
	Tasks:           "/topic/tasks",
	TaskStatus:      "/topic/task-status",
	UserQueuePrefix: "/queue/user/",
}

func (d Destinations) UserQueue(userID int64) string {
	return d.UserQueuePrefix + strconv.FormatInt(userID, 10)
}

type subscription struct {
	id          string
	destination string
	topic       Topic
}

func (d Destinations) subscriptions(userID int64) []subscription {
	return []subscription{
		{id: "sub-0", destination: d.Tasks, topic: TopicTaskCreated},
		{id: "sub-1", destination: d.TaskStatus, topic: TopicTaskStatusChanged},
		{id: "sub-2", destination: d.UserQueue(userID), topic: TopicTaskAssigned},
	}
}

// Event is one decoded push message.
type Event struct {
	Topic       Topic
	Destination string
	Task        models.Task
}

// Handler receives every event on the reader goroutine. It must not call
// Close.
type Handler func(Event)

type TokenSource interface {
	Token() string
}

// Channel keeps at most one live STOMP subscription set.
type Channel struct {
	url              string
	dialer           *websocket.Dialer
	tokens           TokenSource
	dest             Destinations
	reconnect        bool
	backoff          BackoffConfig
	handshakeTimeout time.Duration
	metrics          *Metrics
	log              *logrus.Entry
	rng              *rand.Rand

	mu     sync.Mutex
	active *link
}

type Option func(*Channel)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithTokenSource sends the session token on the upgrade request and the
// CONNECT frame.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Channel) { c.tokens = ts }
}

func WithReconnect(enabled bool) Option {
	return func(c *Channel) { c.reconnect = enabled }
}

func WithBackoff(b BackoffConfig) Option {
	return func(c *Channel) { c.backoff = b }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Channel) { c.handshakeTimeout = d }
}

func WithDestinations(d Destinations) Option {
	return func(c *Channel) { c.dest = d }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Channel) { c.log = log }
}

func New(rawURL string, opts ...Option) *Channel {
	c := &Channel{
		url:              rawURL,
		dialer:           websocket.DefaultDialer,
		dest:             DefaultDestinations,
		reconnect:        true,
		backoff:          DefaultBackoff(),
		handshakeTimeout: 10 * time.Second,
		log:              logrus.NewEntry(utils.NewDiscardLogger()),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a subscription set is open. During a reconnect
// it stays true.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Open connects and subscribes to the broadcast topics and the queue of
// userID. An existing connection is closed first.
func (c *Channel) Open(ctx context.Context, userID int64, handler Handler) error {
	if handler == nil {
		return errors.New("push: nil handler")
	}
	c.Close()

	l := &link{
		userID:  userID,
		handler: handler,
		subs:    c.dest.subscriptions(userID),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	ws, err := c.connect(ctx, l)
	if err != nil {
		return err
	}
	l.ws = ws

	c.mu.Lock()
	c.active = l
	c.mu.Unlock()
	c.metrics.setConnected(true)

	go c.run(l)
	c.log.WithField("user_id", userID).Info("push channel open")
	return nil
}

// Close disconnects and waits for the reader goroutine to exit. No handler
// call happens after Close returns. Safe to call when not open.
func (c *Channel) Close() {
	c.mu.Lock()
	l := c.active
	c.active = nil
	c.mu.Unlock()
	if l == nil {
		return
	}

	l.shutdown()
	<-l.done
	c.metrics.setConnected(false)
	c.log.WithField("user_id", l.userID).Info("push channel closed")
}

func (c *Channel) connect(ctx context.Context, l *link) (*websocket.Conn, error) {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNotConnected, c.url, err)
	}
	if err := c.handshake(ws, l, token); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (c *Channel) handshake(ws *websocket.Conn, l *link, token string) error {
	host := c.url
	if u, err := url.Parse(c.url); err == nil {
		host = u.Host
	}
	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", "0,0",
	)
	if token != "" {
		connect.Headers["Authorization"] = "Bearer " + token
	}

	deadline := time.Now().Add(c.handshakeTimeout)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, connect.Encode()); err != nil {
		return fmt.Errorf("%w: send CONNECT: %v", ErrNotConnected, err)
	}

	var reply Frame
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read CONNECTED: %v", ErrNotConnected, err)
		}
		reply, err = Decode(data)
		if errors.Is(err, ErrHeartbeat) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		break
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		return fmt.Errorf("%w: broker refused: %s", ErrNotConnected, reply.Header("message"))
	default:
		return fmt.Errorf("%w: unexpected %s frame", ErrNotConnected, reply.Command)
	}

	for _, s := range l.subs {
		sub := NewFrame(CmdSubscribe, "id", s.id, "destination", s.destination, "ack", "auto")
		if err := ws.WriteMessage(websocket.TextMessage, sub.Encode()); err != nil {
			return fmt.Errorf("%w: subscribe %s: %v", ErrNotConnected, s.destination, err)
		}
	}
	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})
	return nil
}

func (c *Channel) run(l *link) {
	defer close(l.done)
	for {
		err := c.readLoop(l)
		if l.isClosing() {
			return
		}
		c.metrics.setConnected(false)
		c.log.WithError(err).Warn("push connection lost")
		if !c.reconnect || !c.redial(l) {
			return
		}
	}
}

// redial retries until a connection is re-established or the link closes.
func (c *Channel) redial(l *link) bool {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(c.backoff.Delay(attempt, c.rng))
		select {
		case <-l.closing:
			timer.Stop()
			return false
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
		ws, err := c.connect(ctx, l)
		cancel()
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Debug("push reconnect failed")
			continue
		}
		if !l.swap(ws) {
			ws.Close()
			return false
		}
		c.metrics.reconnected()
		c.metrics.setConnected(true)
		c.log.WithField("attempt", attempt).Info("push channel reconnected")
		return true
	}
}

func (c *Channel) readLoop(l *link) error {
	ws := l.conn()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		f, err := Decode(data)
		if errors.Is(err, ErrHeartbeat) {
			continue
		}
		if err != nil {
			c.metrics.decodeError()
			c.log.WithError(err).Debug("dropping malformed frame")
			continue
		}

		switch f.Command {
		case CmdMessage:
			c.dispatch(l, f)
		case CmdError:
			return fmt.Errorf("broker error: %s", f.Header("message"))
		}
	}
}

func (c *Channel) dispatch(l *link, f Frame) {
	dest := f.Header("destination")
	topic, ok := l.topicFor(f.Header("subscription"), dest)
	if !ok {
		c.log.WithField("destination", dest).Debug("message for unknown subscription")
		return
	}

	var task models.Task
	if err := json.Unmarshal(f.Body, &task); err != nil {
		c.metrics.decodeError()
		c.log.WithError(err).WithField("topic", topic).Warn("undecodable push payload")
		return
	}
	c.metrics.message(topic)
	c.log.WithFields(logrus.Fields{"topic": topic, "task_id": task.ID}).Debug("push event")
	l.handler(Event{Topic: topic, Destination: dest, Task: task})
}

// link is one Open call: its subscriptions survive reconnects.
type link struct {
	userID  int64
	handler Handler
	subs    []subscription
	closing chan struct{}
	done    chan struct{}
	once    sync.Once

	mu sync.Mutex
	ws *websocket.Conn
}

func (l *link) conn() *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ws
}

func (l *link) swap(ws *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosing() {
		return false
	}
	l.ws = ws
	return true
}

func (l *link) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

func (l *link) topicFor(subID, dest string) (Topic, bool) {
	for _, s := range l.subs {
		if subID != "" && s.id == subID {
			return s.topic, true
		}
	}
	for _, s := range l.subs {
		if strings.EqualFold(s.destination, dest) {
			return s.topic, true
		}
	}
	return "", false
}

func (l *link) shutdown() {
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		close(l.closing)
		if l.ws == nil {
			return
		}
		_ = l.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = l.ws.WriteMessage(websocket.TextMessage, NewFrame(CmdDisconnect, "receipt", "disconnect").Encode())
		_ = l.ws.Close()
	})
}
