package cohort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/ruikei/internal/model"
	"github.com/ashita-ai/ruikei/internal/reconcile"
	"github.com/ashita-ai/ruikei/internal/telemetry"
)

// Inbound receives decoded events. *reconcile.Engine implements it.
type Inbound interface {
	HandleInboundEvent(ctx context.Context, cohort string, ev *model.TypeDefEvent) reconcile.Outcome
}

// Subscriber is the subset of *nats.Conn used to receive events.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Listener feeds every cohort's events into an Inbound handler. NATS delivers
// the messages of one subscription in order, one at a time, so events of a
// cohort are reconciled in the order they were published.
type Listener struct {
	conn    Subscriber
	prefix  string
	cohorts []string
	handler Inbound
	logger  *slog.Logger

	malformed metric.Int64Counter
}

// NewListener creates a Listener for the given cohorts.
func NewListener(conn Subscriber, prefix string, cohorts []string, handler Inbound, logger *slog.Logger) *Listener {
	l := &Listener{conn: conn, prefix: prefix, cohorts: cohorts, handler: handler, logger: logger}
	l.malformed, _ = telemetry.Meter("ruikei/cohort").Int64Counter("ruikei.cohort.malformed",
		metric.WithDescription("Inbound cohort messages that could not be decoded"),
	)
	return l
}

// Run subscribes to every cohort and blocks until ctx is done, then drains
// the subscriptions so in-flight events finish.
func (l *Listener) Run(ctx context.Context) error {
	subs := make([]*nats.Subscription, 0, len(l.cohorts))
	defer func() {
		for _, s := range subs {
			if err := s.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				l.logger.Warn("cohort: drain subscription", "subject", s.Subject, "error", err)
			}
		}
	}()

	for _, cohort := range l.cohorts {
		subject := Subject(l.prefix, cohort)
		sub, err := l.conn.Subscribe(subject, l.deliver(ctx, cohort))
		if err != nil {
			return fmt.Errorf("cohort: subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
		l.logger.Info("cohort: subscribed", "cohort", cohort, "subject", subject)
	}

	<-ctx.Done()
	return nil
}

func (l *Listener) deliver(ctx context.Context, cohort string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ev, err := Decode(msg.Data)
		if err != nil {
			l.malformed.Add(ctx, 1, metric.WithAttributes(attribute.String("cohort", cohort)))
			l.logger.Debug("cohort: dropping malformed message", "cohort", cohort, "subject", msg.Subject, "error", err)
			return
		}
		// Handling continues through shutdown so a drained message is
		// reconciled fully.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		outcome := l.handler.HandleInboundEvent(hctx, cohort, ev)
		l.logger.Debug("cohort: event handled", "cohort", cohort, "event_id", ev.ID,
			"event_type", ev.EventType, "outcome", outcome)
	}
}

// Connect dials NATS with reconnects enabled and connection state changes
// logged.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("cohort: disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("cohort: reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cohort: connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}
