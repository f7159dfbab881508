package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smarttutor-systems/trustcore/internal/models"
)

// SubjectSecurityAlerts is the NATS subject alerts are mirrored to for
// downstream consumers (SIEM forwarders, incident tooling).
const SubjectSecurityAlerts = "trustcore.alerts.security"

// NATSPublisher mirrors every published alert onto a NATS subject.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("trustcore-alerts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, alert *Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return p.conn.Publish(SubjectSecurityAlerts, payload)
}

// HandleEvent mirrors recorded security events as alerts on the NATS
// subject. Publish failures are not retried; NATS reconnect handles the
// transport.
func (p *NATSPublisher) HandleEvent(ctx context.Context, event *models.SecurityEvent) {
	_ = p.Publish(ctx, NewAlert(event, nil))
}

func (p *NATSPublisher) Close() {
	p.conn.Drain()
}
