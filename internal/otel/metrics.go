package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Outcomes recorded for a processed domain event.
const (
	OutcomeApplied = "applied" // store mutated
	OutcomeDropped = "dropped" // no active session
	OutcomeIgnored = "ignored" // nothing to do
	OutcomeFailed  = "failed"  // store error
)

var (
	initMetricsOnce sync.Once

	notificationsCounter metric.Int64Counter
	eventsCounter        metric.Int64Counter
	reactionDuration     metric.Float64Histogram
	broadcastsCounter    metric.Int64Counter
	subscribersGauge     metric.Int64ObservableGauge

	subscribersMu sync.Mutex
	subscribers   = map[string]int64{}
)

// InitMetrics creates the instruments. Safe to call more than once; call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		notificationsCounter, err = m.Int64Counter("teamscope_file_notifications_total", metric.WithDescription("Stabilized file notifications by root and change kind"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("teamscope_domain_events_total", metric.WithDescription("Domain events processed by topic and outcome"))
		if err != nil {
			return
		}
		reactionDuration, err = m.Float64Histogram("teamscope_reaction_duration_seconds", metric.WithDescription("Time spent in bus reactors"))
		if err != nil {
			return
		}
		broadcastsCounter, err = m.Int64Counter("teamscope_broadcasts_total", metric.WithDescription("Envelopes delivered to subscribers"))
		if err != nil {
			return
		}
		subscribersGauge, err = m.Int64ObservableGauge("teamscope_subscribers", metric.WithDescription("Connected push subscribers by channel"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			subscribersMu.Lock()
			defer subscribersMu.Unlock()
			for ch, n := range subscribers {
				o.ObserveInt64(subscribersGauge, n, metric.WithAttributes(AttrChannel.String(ch)))
			}
			return nil
		}, subscribersGauge)
	})
	return err
}

// RecordNotification counts one stabilized file notification.
func RecordNotification(ctx context.Context, root, kind string) {
	if notificationsCounter == nil {
		return
	}
	notificationsCounter.Add(ctx, 1, metric.WithAttributes(AttrRoot.String(root), AttrKind.String(kind)))
}

// RecordEvent counts a processed domain event and how long its reactor took.
func RecordEvent(ctx context.Context, topic, outcome string, took time.Duration) {
	if eventsCounter != nil {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic), AttrOutcome.String(outcome)))
	}
	if reactionDuration != nil {
		reactionDuration.Record(ctx, took.Seconds(), metric.WithAttributes(AttrTopic.String(topic)))
	}
}

// RecordBroadcast counts envelopes handed to subscribers for one topic.
func RecordBroadcast(ctx context.Context, topic string, delivered int) {
	if broadcastsCounter == nil || delivered == 0 {
		return
	}
	broadcastsCounter.Add(ctx, int64(delivered), metric.WithAttributes(AttrTopic.String(topic)))
}

// AddSubscriber adds one to the subscriber gauge for channel ("ws" or "sse").
func AddSubscriber(channel string) {
	subscribersMu.Lock()
	subscribers[channel]++
	subscribersMu.Unlock()
}

// RemoveSubscriber subtracts one from the subscriber gauge for channel.
func RemoveSubscriber(channel string) {
	subscribersMu.Lock()
	if subscribers[channel] > 0 {
		subscribers[channel]--
	}
	subscribersMu.Unlock()
}

// SessionCountFunc returns the number of active sessions.
type SessionCountFunc func() int64

// InitMetricsWithSessionCount creates the instruments and, when count is not
// nil, a teamscope_active_sessions gauge fed by it.
func InitMetricsWithSessionCount(ctx context.Context, count SessionCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if count == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("teamscope_active_sessions", metric.WithDescription("Teams with an active monitoring session"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, count())
		return nil
	}, gauge)
	return err
}
