package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"itdesk/internal/metrics"
	"itdesk/internal/models"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const insertAlert = `INSERT INTO security_alerts \(type, severity, details, created_at\) VALUES \(\$1, \$2, \$3, \$4\)`

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestRecord_LogsWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := New(newMock(t), zap.New(core), nil)

	m.Record(models.AlertRateLimitExceeded, models.SeverityHigh, map[string]any{"identity": "X"})

	entries := logs.FilterMessage("[SECURITY]").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, models.AlertRateLimitExceeded, fields["type"])
	require.Equal(t, "HIGH", fields["severity"])
	require.Len(t, m.eventCh, 1)
}

func TestRecord_FullQueueDrops(t *testing.T) {
	m := New(newMock(t), zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))

	for i := 0; i < queueSize+5; i++ {
		m.Record(models.AlertCSRFFailed, models.SeverityCritical, nil)
	}
	require.Len(t, m.eventCh, queueSize)
}

func TestStart_FlushesOnShutdown(t *testing.T) {
	mock := newMock(t)
	m := New(mock, zaptest.NewLogger(t), nil)

	m.Record(models.AlertRateLimitExceeded, models.SeverityHigh, map[string]any{"identity": "X"})
	m.Record(models.AlertCSRFFailed, models.SeverityCritical, map[string]any{"route": "/api/infra"})

	mock.ExpectBegin()
	mock.ExpectExec(insertAlert).
		WithArgs(models.AlertRateLimitExceeded, "HIGH", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertAlert).
		WithArgs(models.AlertCSRFFailed, "CRITICAL", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	m := New(mock, zaptest.NewLogger(t), nil)

	mock.ExpectBegin()
	mock.ExpectExec(insertAlert).
		WithArgs("X", string(models.SeverityLow), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := m.insert(context.Background(), []*models.SecurityAlert{{Type: "X", Severity: models.SeverityLow, CreatedAt: time.Now()}})
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_NewestFirstCapped(t *testing.T) {
	mock := newMock(t)
	m := New(mock, zaptest.NewLogger(t), nil)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, type, severity, details, created_at\s+FROM security_alerts ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(MaxRecent).
		WillReturnRows(pgxmock.NewRows([]string{"id", "type", "severity", "details", "created_at"}).
			AddRow(int64(2), models.AlertCSRFFailed, "CRITICAL", []byte(`{"route":"/api/infra"}`), now).
			AddRow(int64(1), models.AlertRateLimitExceeded, "HIGH", []byte(`{"identity":"X"}`), now.Add(-time.Minute)))

	alerts, err := m.Recent(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, models.SeverityCritical, alerts[0].Severity)
	require.Equal(t, "/api/infra", alerts[0].Details["route"])
	require.Equal(t, "X", alerts[1].Details["identity"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSince_OldestFirstAfterID(t *testing.T) {
	mock := newMock(t)
	m := New(mock, zaptest.NewLogger(t), nil)

	mock.ExpectQuery(`SELECT id, type, severity, details, created_at\s+FROM security_alerts WHERE id > \$1 ORDER BY id ASC LIMIT \$2`).
		WithArgs(int64(7), MaxRecent).
		WillReturnRows(pgxmock.NewRows([]string{"id", "type", "severity", "details", "created_at"}).
			AddRow(int64(8), models.AlertRateLimitExceeded, "HIGH", []byte(`not json`), time.Now()))

	alerts, err := m.Since(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, int64(8), alerts[0].ID)
	require.Equal(t, "not json", alerts[0].Details["raw"])
	require.NoError(t, mock.ExpectationsWereMet())
}
