package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-realtime/internal/apperror"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

const (
	userPrefix    = "user:"
	roomPrefix    = "room:"
	controlPrefix = "control:"
)

func UserChannel(userID uuid.UUID) string { return userPrefix + userID.String() }

func RoomChannel(roomID uuid.UUID) string { return roomPrefix + roomID.String() }

func ControlChannel(instanceID string) string { return controlPrefix + instanceID }

// Frame is the broker payload. Event is the client-facing {type, data} envelope.
type Frame struct {
	Exclude *uuid.UUID      `json:"exclude,omitempty"`
	Event   json.RawMessage `json:"event"`
}

// PublishOption adjusts an outgoing frame.
type PublishOption func(*Frame)

// Exclude skips delivery to userID.
func Exclude(userID uuid.UUID) PublishOption {
	return func(f *Frame) {
		id := userID
		f.Exclude = &id
	}
}

// Deliverer writes a payload to a locally connected user.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, payload []byte) bool
}

// MemberSource lists the local members of a room.
type MemberSource interface {
	Members(roomID uuid.UUID) []uuid.UUID
}

type Config struct {
	InstanceID     string
	HealthInterval time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) withDefaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Router publishes events to user and room channels and runs the single
// listener that delivers them to this instance's connections.
type Router struct {
	rdb       redis.UniversalClient
	cfg       Config
	deliverer Deliverer
	members   MemberSource
	logger    zerolog.Logger
	tracer    trace.Tracer

	// subMu serializes subscription commands and guards desired and ps.
	subMu   sync.Mutex
	desired map[string]struct{}
	ps      *redis.PubSub

	healthy  atomic.Bool
	onHealth func(serving bool)
}

func NewRouter(rdb redis.UniversalClient, cfg Config, deliverer Deliverer, logger zerolog.Logger) *Router {
	cfg.withDefaults()
	return &Router{
		rdb:       rdb,
		cfg:       cfg,
		deliverer: deliverer,
		logger:    logger,
		tracer:    otel.Tracer("chat-realtime/fanout"),
		desired:   make(map[string]struct{}),
	}
}

// SetMembers attaches the local room membership used for room channels.
// It must be called before Run.
func (r *Router) SetMembers(members MemberSource) {
	r.members = members
}

// OnHealthChange registers fn to observe listener state. It must be called before Run.
func (r *Router) OnHealthChange(fn func(serving bool)) {
	r.onHealth = fn
}

// Healthy reports whether the listener currently holds a live subscription.
func (r *Router) Healthy() bool {
	return r.healthy.Load()
}

func (r *Router) PublishToUser(ctx context.Context, userID uuid.UUID, event models.Event, opts ...PublishOption) error {
	return r.publish(ctx, UserChannel(userID), "user", event, opts)
}

func (r *Router) PublishToRoom(ctx context.Context, roomID uuid.UUID, event models.Event, opts ...PublishOption) error {
	return r.publish(ctx, RoomChannel(roomID), "room", event, opts)
}

func (r *Router) publish(ctx context.Context, channel, namespace string, event models.Event, opts []PublishOption) error {
	ctx, span := r.tracer.Start(ctx, "fanout.publish", trace.WithAttributes(
		attribute.String("messaging.destination", channel),
		attribute.String("chat.event_type", event.Type),
	))
	defer span.End()

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	frame := Frame{Event: raw}
	for _, opt := range opts {
		opt(&frame)
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	if err := r.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		span.RecordError(err)
		observability.IncBrokerPublish(namespace, "error")
		return apperror.Transient("publish "+namespace+" event", err)
	}
	observability.IncBrokerPublish(namespace, "ok")
	return nil
}

// SubscribeUser adds the user's channel to the listener. It returns once the
// SUBSCRIBE is written, not when the broker confirms it, so an event
// published in that window can be missed.
func (r *Router) SubscribeUser(ctx context.Context, userID uuid.UUID) error {
	return r.subscribe(ctx, UserChannel(userID))
}

func (r *Router) UnsubscribeUser(ctx context.Context, userID uuid.UUID) error {
	return r.unsubscribe(ctx, UserChannel(userID))
}

// SubscribeRoom has the same unconfirmed window as SubscribeUser.
func (r *Router) SubscribeRoom(ctx context.Context, roomID uuid.UUID) error {
	return r.subscribe(ctx, RoomChannel(roomID))
}

func (r *Router) UnsubscribeRoom(ctx context.Context, roomID uuid.UUID) error {
	return r.unsubscribe(ctx, RoomChannel(roomID))
}

// Channels returns the channels the listener should hold besides its control channel.
func (r *Router) Channels() []string {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	out := make([]string, 0, len(r.desired))
	for ch := range r.desired {
		out = append(out, ch)
	}
	return out
}

func (r *Router) subscribe(ctx context.Context, channel string) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if _, ok := r.desired[channel]; ok {
		return nil
	}
	r.desired[channel] = struct{}{}
	if r.ps == nil {
		return nil
	}
	if err := r.ps.Subscribe(ctx, channel); err != nil {
		delete(r.desired, channel)
		return apperror.Transient("subscribe "+channel, err)
	}
	return nil
}

func (r *Router) unsubscribe(ctx context.Context, channel string) error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if _, ok := r.desired[channel]; !ok {
		return nil
	}
	delete(r.desired, channel)
	if r.ps == nil {
		return nil
	}
	if err := r.ps.Unsubscribe(ctx, channel); err != nil {
		return apperror.Transient("unsubscribe "+channel, err)
	}
	return nil
}

// Run is the instance's listener. It holds one subscription covering the
// control channel and every desired channel, and re-creates it with backoff
// whenever the broker connection fails. It returns when ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	backoff := r.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		ps, err := r.open(ctx)
		if err == nil {
			backoff = r.cfg.MinBackoff
			r.setHealthy(true)
			stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
			err = r.receive(ctx, ps)
			stop()
			r.setHealthy(false)
			r.release(ps)
		}
		if ctx.Err() != nil {
			return nil
		}

		observability.IncBrokerReconnect()
		r.logger.Warn().Err(err).Dur("backoff", backoff).Msg("broker subscription lost, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}
}

func (r *Router) open(ctx context.Context) (*redis.PubSub, error) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	channels := make([]string, 0, len(r.desired)+1)
	channels = append(channels, ControlChannel(r.cfg.InstanceID))
	for ch := range r.desired {
		channels = append(channels, ch)
	}

	ps := r.rdb.Subscribe(ctx)
	if err := ps.Subscribe(ctx, channels...); err != nil {
		_ = ps.Close()
		return nil, err
	}
	r.ps = ps
	r.logger.Info().Int("channels", len(channels)).Msg("broker subscription established")
	return ps, nil
}

func (r *Router) release(ps *redis.PubSub) {
	r.subMu.Lock()
	if r.ps == ps {
		r.ps = nil
	}
	r.subMu.Unlock()
	_ = ps.Close()
}

func (r *Router) receive(ctx context.Context, ps *redis.PubSub) error {
	for {
		msg, err := ps.ReceiveTimeout(ctx, r.cfg.HealthInterval)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() == nil {
				if perr := ps.Ping(ctx); perr != nil {
					return perr
				}
				continue
			}
			return err
		}

		switch m := msg.(type) {
		case *redis.Message:
			r.dispatch(ctx, m.Channel, []byte(m.Payload))
		case *redis.Subscription:
			r.logger.Debug().Str("kind", m.Kind).Str("channel", m.Channel).Msg("subscription changed")
		case *redis.Pong:
		}
	}
}

func (r *Router) dispatch(ctx context.Context, channel string, payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil || !validEvent(frame.Event) {
		observability.IncFanoutMalformed()
		r.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed broker message")
		return
	}

	switch {
	case strings.HasPrefix(channel, userPrefix):
		userID, err := uuid.Parse(strings.TrimPrefix(channel, userPrefix))
		if err != nil {
			r.logger.Warn().Str("channel", channel).Msg("invalid user channel")
			return
		}
		if frame.Exclude != nil && *frame.Exclude == userID {
			return
		}
		r.deliver(ctx, "user", userID, frame.Event)
	case strings.HasPrefix(channel, roomPrefix):
		roomID, err := uuid.Parse(strings.TrimPrefix(channel, roomPrefix))
		if err != nil {
			r.logger.Warn().Str("channel", channel).Msg("invalid room channel")
			return
		}
		if r.members == nil {
			return
		}
		for _, userID := range r.members.Members(roomID) {
			if frame.Exclude != nil && *frame.Exclude == userID {
				continue
			}
			r.deliver(ctx, "room", userID, frame.Event)
		}
	case strings.HasPrefix(channel, controlPrefix):
		r.logger.Debug().Str("channel", channel).Msg("control message received")
	default:
		r.logger.Warn().Str("channel", channel).Msg("message on unknown channel")
	}
}

func (r *Router) deliver(ctx context.Context, namespace string, userID uuid.UUID, event []byte) {
	if r.deliverer.Deliver(ctx, userID, event) {
		observability.IncFanoutDelivery(namespace, "delivered")
		return
	}
	observability.IncFanoutDelivery(namespace, "undelivered")
}

func (r *Router) setHealthy(serving bool) {
	r.healthy.Store(serving)
	if r.onHealth != nil {
		r.onHealth(serving)
	}
}

func validEvent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var ev models.Event
	return json.Unmarshal(raw, &ev) == nil && ev.Type != ""
}
