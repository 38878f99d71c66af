package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"kalshi_go/internal/event"
	"kalshi_go/pkg/quant"
)

// EnsembleSubject carries outcome draws published by the forecast collector.
const EnsembleSubject Kind = "ensemble"

// NATSPublisher fans records out on subjects "<prefix>.<kind>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("kalshi-engine"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject a record kind is published on.
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}

// Write publishes every record and flushes once.
func (p *NATSPublisher) Write(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", rec.Kind, err)
		}
		if err := p.conn.Publish(Subject(p.prefix, rec.Kind), data); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
	}
	return p.conn.FlushWithContext(ctx)
}

type ensembleMsg struct {
	EventTicker string    `json:"event_ticker"`
	Draws       []float64 `json:"draws"`
}

// SubscribeEnsembles delivers draws published on "<prefix>.ensemble" to fn.
// Malformed messages are logged and skipped.
func (p *NATSPublisher) SubscribeEnsembles(fn func(*event.EnsembleEvent)) (*nats.Subscription, error) {
	return p.conn.Subscribe(Subject(p.prefix, EnsembleSubject), func(m *nats.Msg) {
		ev, err := DecodeEnsemble(m.Data)
		if err != nil {
			slog.Warn("⚠️ Dropping ensemble message", slog.String("subject", m.Subject), slog.Any("error", err))
			return
		}
		fn(ev)
	})
}

// DecodeEnsemble parses one collector payload.
func DecodeEnsemble(data []byte) (*event.EnsembleEvent, error) {
	var msg ensembleMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode ensemble: %w", err)
	}
	if msg.EventTicker == "" {
		return nil, fmt.Errorf("decode ensemble: missing event_ticker")
	}
	if len(msg.Draws) == 0 {
		return nil, fmt.Errorf("decode ensemble %s: no draws", msg.EventTicker)
	}
	ev := &event.EnsembleEvent{EventTicker: msg.EventTicker, Draws: msg.Draws}
	ev.Ts = quant.Now()
	return ev, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn.Close()
	return err
}
