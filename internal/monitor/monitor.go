// Package monitor records security alerts: every alert is logged immediately
// and persisted asynchronously in batches.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"itdesk/internal/metrics"
	"itdesk/internal/models"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	queueSize     = 1000
	batchSize     = 100
	flushInterval = 5 * time.Second

	// MaxRecent caps how many alerts Recent returns.
	MaxRecent = 100
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Monitor struct {
	db      DB
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	eventCh chan *models.SecurityAlert
}

func New(db DB, log *zap.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		db:      db,
		log:     log,
		metrics: m,
		now:     time.Now,
		eventCh: make(chan *models.SecurityAlert, queueSize),
	}
}

// Record logs the alert and queues it for persistence. It never blocks; when
// the queue is full the alert is only logged.
func (m *Monitor) Record(alertType string, severity models.Severity, details map[string]any) {
	alert := &models.SecurityAlert{
		Type:      alertType,
		Severity:  severity,
		Details:   details,
		CreatedAt: m.now(),
	}

	m.log.Warn("[SECURITY]",
		zap.String("type", alertType),
		zap.String("severity", string(severity)),
		zap.Any("details", details),
		zap.Time("timestamp", alert.CreatedAt),
	)

	select {
	case m.eventCh <- alert:
	default:
		m.metrics.AlertDropped()
	}
}

// Start drains the queue until ctx is done, flushing every batchSize alerts
// or flushInterval, whichever comes first.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	alerts := make([]*models.SecurityAlert, 0, batchSize)

	for {
		select {
		case <-ctx.Done():
			m.drain(&alerts)
			m.flush(context.Background(), alerts)
			return

		case alert := <-m.eventCh:
			alerts = append(alerts, alert)
			if len(alerts) >= batchSize {
				m.flush(ctx, alerts)
				alerts = alerts[:0]
			}

		case <-ticker.C:
			if len(alerts) > 0 {
				m.flush(ctx, alerts)
				alerts = alerts[:0]
			}
		}
	}
}

func (m *Monitor) drain(alerts *[]*models.SecurityAlert) {
	for {
		select {
		case alert := <-m.eventCh:
			*alerts = append(*alerts, alert)
		default:
			return
		}
	}
}

func (m *Monitor) flush(ctx context.Context, alerts []*models.SecurityAlert) {
	if len(alerts) == 0 {
		return
	}
	if err := m.insert(ctx, alerts); err != nil {
		m.log.Error("failed to persist security alerts", zap.Int("count", len(alerts)), zap.Error(err))
	}
}

func (m *Monitor) insert(ctx context.Context, alerts []*models.SecurityAlert) (err error) {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	for _, alert := range alerts {
		if _, err = tx.Exec(
			ctx,
			`INSERT INTO security_alerts (type, severity, details, created_at) VALUES ($1, $2, $3, $4)`,
			alert.Type, string(alert.Severity), models.RawDetails(alert.Details), alert.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns persisted alerts newest first, at most MaxRecent.
func (m *Monitor) Recent(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	rows, err := m.db.Query(
		ctx,
		`SELECT id, type, severity, details, created_at
		 FROM security_alerts ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}
	return scanAlerts(rows)
}

// Since returns alerts with an id greater than afterID, oldest first.
func (m *Monitor) Since(ctx context.Context, afterID int64) ([]*models.SecurityAlert, error) {
	rows, err := m.db.Query(
		ctx,
		`SELECT id, type, severity, details, created_at
		 FROM security_alerts WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, MaxRecent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}
	return scanAlerts(rows)
}

func scanAlerts(rows pgx.Rows) ([]*models.SecurityAlert, error) {
	defer rows.Close()

	alerts := []*models.SecurityAlert{}
	for rows.Next() {
		var (
			a        models.SecurityAlert
			severity string
			raw      []byte
		)
		if err := rows.Scan(&a.ID, &a.Type, &severity, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan security alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a.Details); err != nil {
				a.Details = map[string]any{"raw": string(raw)}
			}
		}
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list security alerts: %w", err)
	}

	return alerts, nil
}
