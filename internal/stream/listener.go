package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/countrybattle/backend/internal/battle"
)

const (
	subjectGifts    = "stream.events.gift"
	subjectComments = "stream.events.comment"

	natsMaxReconnects = -1 // retry forever
	natsReconnectWait = 10 * time.Second
)

// GiftEvent is a normalized gift notification from the platform bridge.
type GiftEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Gift     string `json:"gift"`
	Coins    int    `json:"coins"`
}

// CommentEvent is a normalized chat comment from the platform bridge.
type CommentEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Connect dials NATS with reconnect handling. A dropped upstream connection
// is retried forever; events missed while disconnected are simply not scored.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("stream source disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("stream source reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("stream source error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Listener translates gift and comment events into battle score updates.
type Listener struct {
	nc       *nats.Conn
	battles  *battle.Manager
	registry battle.Broadcaster
	points   *PointsTable

	subs []*nats.Subscription
}

// NewListener wires the event subscriptions but does not start them.
func NewListener(nc *nats.Conn, battles *battle.Manager, registry battle.Broadcaster, points *PointsTable) *Listener {
	return &Listener{
		nc:       nc,
		battles:  battles,
		registry: registry,
		points:   points,
	}
}

// Start subscribes to the gift and comment subjects.
func (l *Listener) Start() error {
	giftSub, err := l.nc.Subscribe(subjectGifts, func(msg *nats.Msg) {
		var event GiftEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Msg("malformed gift event")
			return
		}
		l.HandleGift(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectGifts, err)
	}
	l.subs = append(l.subs, giftSub)

	commentSub, err := l.nc.Subscribe(subjectComments, func(msg *nats.Msg) {
		var event CommentEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Msg("malformed comment event")
			return
		}
		l.HandleComment(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subjectComments, err)
	}
	l.subs = append(l.subs, commentSub)

	log.Info().Msg("stream listener started")
	return nil
}

// Stop unsubscribes from all subjects. The NATS client delivers each
// in-flight callback to completion before Unsubscribe returns.
func (l *Listener) Stop() {
	for _, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	l.subs = nil
	log.Info().Msg("stream listener stopped")
}

// HandleGift scores a gift for the sender's assigned country and broadcasts
// the annotated state. Gifts arriving with no battle running are dropped.
func (l *Listener) HandleGift(event GiftEvent) {
	b := l.battles.Active()
	if b == nil {
		return
	}

	points := l.points.GiftPoints(event.Gift, event.Coins)
	country := CountryForUser(event.UserID, b.Countries)

	if err := b.AddScore(country, points); err != nil {
		log.Debug().Err(err).Str("country", country).Msg("gift not scored")
		return
	}

	st := b.Snapshot()
	st.LastGift = &battle.GiftAnnotation{
		User:    event.Username,
		Gift:    event.Gift,
		Points:  points,
		Country: country,
		IsLion:  strings.EqualFold(event.Gift, "Lion"),
	}
	l.registry.Broadcast(st)
}

// HandleComment gives one point to a country mentioned in chat.
func (l *Listener) HandleComment(event CommentEvent) {
	b := l.battles.Active()
	if b == nil {
		return
	}

	country := DetectCountry(event.Text, b.Countries)
	if country == "" {
		return
	}
	if err := b.AddScore(country, 1); err != nil {
		return
	}
	l.registry.Broadcast(b.Snapshot())
}
