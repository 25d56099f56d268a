package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	pusherAppKey = "baf06f5a867d462e09d4"
	pusherHost   = "ws-mt1.pusher.com"

	eventConnectionEstablished = "pusher:connection_established"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventError                 = "pusher:error"
	eventSubscribed            = "pusher_internal:subscription_succeeded"

	eventMode   = "mode"
	eventHub    = "hub"
	eventDevice = "device"

	channelPrefix = "private-"
)

// ChannelAuthorizer signs private channel subscriptions.
type ChannelAuthorizer interface {
	PusherAuth(ctx context.Context, socketID, channel string) (string, error)
}

// Listener receives realtime location events from Scout over a Pusher
// websocket.
//
// Handlers are called sequentially from the listener goroutine.
type Listener struct {
	url  string
	auth ChannelAuthorizer

	lock      sync.Mutex
	state     ConnectionState
	locations []string
	socketID  string
	conn      *websocket.Conn
	writeLock sync.Mutex

	modeHandlers  []func(locationID string, event ModeEvent)
	hubHandlers   []func(hub Hub)
	devHandlers   []func(device Device)
	connHandlers  []func(event ConnectionStateEvent)
	handlersMutex sync.RWMutex
}

type ListenerOption func(*Listener)

// WithListenerURL overrides the websocket URL, mostly useful for tests.
func WithListenerURL(u string) ListenerOption {
	return func(l *Listener) {
		l.url = u
	}
}

func NewListener(auth ChannelAuthorizer, opts ...ListenerOption) *Listener {
	q := url.Values{}
	q.Set("protocol", "7")
	q.Set("client", "homekit-scout")
	q.Set("version", "1.0")
	l := &Listener{
		url: (&url.URL{
			Scheme:   "wss",
			Host:     pusherHost,
			Path:     "/app/" + pusherAppKey,
			RawQuery: q.Encode(),
		}).String(),
		auth:  auth,
		state: ConnectionStateDisconnected,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) OnMode(fn func(locationID string, event ModeEvent)) {
	l.handlersMutex.Lock()
	defer l.handlersMutex.Unlock()
	l.modeHandlers = append(l.modeHandlers, fn)
}

func (l *Listener) OnHub(fn func(hub Hub)) {
	l.handlersMutex.Lock()
	defer l.handlersMutex.Unlock()
	l.hubHandlers = append(l.hubHandlers, fn)
}

func (l *Listener) OnDevice(fn func(device Device)) {
	l.handlersMutex.Lock()
	defer l.handlersMutex.Unlock()
	l.devHandlers = append(l.devHandlers, fn)
}

func (l *Listener) OnConnectionState(fn func(event ConnectionStateEvent)) {
	l.handlersMutex.Lock()
	defer l.handlersMutex.Unlock()
	l.connHandlers = append(l.connHandlers, fn)
}

// State returns the current connection state.
func (l *Listener) State() ConnectionState {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.state
}

// Connect starts listening in the background until ctx is done, reconnecting
// whenever the connection drops.
func (l *Listener) Connect(ctx context.Context) {
	go l.run(ctx)
}

// AddLocation subscribes to a location's channel, now if connected and again
// after every reconnect.
func (l *Listener) AddLocation(ctx context.Context, locationID string) error {
	l.lock.Lock()
	for _, id := range l.locations {
		if id == locationID {
			l.lock.Unlock()
			return nil
		}
	}
	l.locations = append(l.locations, locationID)
	conn, socketID := l.conn, l.socketID
	l.lock.Unlock()

	if conn == nil || socketID == "" {
		return nil
	}
	return l.subscribe(ctx, conn, socketID, locationID)
}

func (l *Listener) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		err := l.session(ctx, bo)
		l.setState(ConnectionStateDisconnected)
		if ctx.Err() != nil {
			log.Info("realtime listener stopped")
			return
		}
		wait := bo.NextBackOff()
		log.Warn("realtime connection lost", "err", err, "retry-in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (l *Listener) session(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		l.lock.Lock()
		l.conn = nil
		l.socketID = ""
		l.lock.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("could not read: %w", err)
		}
		if err := l.handle(ctx, conn, msg); err != nil {
			return err
		}
		if l.State() == ConnectionStateConnected {
			bo.Reset()
		}
	}
}

func (l *Listener) handle(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	event := gjson.GetBytes(msg, "event").String()
	channel := gjson.GetBytes(msg, "channel").String()
	data := payload(gjson.GetBytes(msg, "data"))

	switch event {
	case eventConnectionEstablished:
		socketID := gjson.GetBytes(data, "socket_id").String()
		if socketID == "" {
			return fmt.Errorf("connection established without a socket id")
		}
		l.lock.Lock()
		l.conn = conn
		l.socketID = socketID
		locations := append([]string(nil), l.locations...)
		l.lock.Unlock()

		log.Info("realtime channel connected", "socket", socketID)
		l.setState(ConnectionStateConnected)
		for _, id := range locations {
			if err := l.subscribe(ctx, conn, socketID, id); err != nil {
				log.Error("could not subscribe", "location", id, "err", err)
			}
		}
		return nil
	case eventPing:
		return l.write(conn, map[string]any{"event": eventPong, "data": map[string]any{}})
	case eventError:
		log.Error("realtime channel error", "data", string(data))
		return nil
	case eventSubscribed:
		log.Debug("subscribed", "channel", channel)
		return nil
	}

	if !strings.HasPrefix(channel, channelPrefix) {
		log.Debug("ignoring event", "event", event, "channel", channel)
		return nil
	}
	locationID := strings.TrimPrefix(channel, channelPrefix)
	listenerEventCounter.WithLabelValues(event).Inc()

	l.handlersMutex.RLock()
	defer l.handlersMutex.RUnlock()

	switch event {
	case eventMode:
		var ev ModeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Error("invalid mode event", "err", err)
			return nil
		}
		for _, fn := range l.modeHandlers {
			fn(locationID, ev)
		}
	case eventHub:
		var hub Hub
		if err := json.Unmarshal(data, &hub); err != nil {
			log.Error("invalid hub event", "err", err)
			return nil
		}
		for _, fn := range l.hubHandlers {
			fn(hub)
		}
	case eventDevice:
		var dev Device
		if err := json.Unmarshal(data, &dev); err != nil {
			log.Error("invalid device event", "err", err)
			return nil
		}
		if dev.LocationID == "" {
			dev.LocationID = locationID
		}
		for _, fn := range l.devHandlers {
			fn(dev)
		}
	default:
		log.Debug("ignoring event", "event", event, "channel", channel)
	}
	return nil
}

func (l *Listener) subscribe(ctx context.Context, conn *websocket.Conn, socketID, locationID string) error {
	channel := channelPrefix + locationID
	auth, err := l.auth.PusherAuth(ctx, socketID, channel)
	if err != nil {
		return err
	}
	log.Debug("subscribing", "channel", channel)
	return l.write(conn, map[string]any{
		"event": eventSubscribe,
		"data": map[string]string{
			"channel": channel,
			"auth":    auth,
		},
	})
}

func (l *Listener) write(conn *websocket.Conn, v any) error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("could not write: %w", err)
	}
	return nil
}

func (l *Listener) setState(state ConnectionState) {
	l.lock.Lock()
	previous := l.state
	l.state = state
	l.lock.Unlock()
	if previous == state {
		return
	}

	if state == ConnectionStateConnected {
		listenerConnectedGauge.Set(1)
	} else {
		listenerConnectedGauge.Set(0)
	}

	event := ConnectionStateEvent{Previous: previous, Current: state}
	l.handlersMutex.RLock()
	defer l.handlersMutex.RUnlock()
	for _, fn := range l.connHandlers {
		fn(event)
	}
}

// Pusher sends event data as a JSON encoded string.
func payload(data gjson.Result) []byte {
	if data.Type == gjson.String {
		return []byte(data.String())
	}
	return []byte(data.Raw)
}
