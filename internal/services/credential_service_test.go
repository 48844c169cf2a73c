package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"itdesk/internal/crypto"
	"itdesk/internal/errs"
	"itdesk/internal/models"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var docCols = []string{"id", "title", "type", "cred_user", "cred_pass_enc"}

const selectDoc = `SELECT id, title, type, cred_user, cred_pass_enc FROM documents WHERE id = \$1`
const insertAccess = `INSERT INTO doc_access_logs \(document_id, user_id, action\) VALUES \(\$1, \$2, \$3\)`

func credKey() []byte { return bytes.Repeat([]byte{1}, crypto.KeyLen) }

func sealed(t *testing.T, id, pass string) []byte {
	t.Helper()
	b, err := crypto.Seal(credKey(), []byte(id), []byte(pass))
	require.NoError(t, err)
	return b
}

func TestCredentialService_Reveal_LogsAccess(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())

	mock.ExpectBegin()
	mock.ExpectQuery(selectDoc).WithArgs("doc1").
		WillReturnRows(pgxmock.NewRows(docCols).AddRow("doc1", "Firewall", models.DocTypeCredential, "admin", sealed(t, "doc1", "s3cret")))
	mock.ExpectExec(insertAccess).WithArgs("doc1", "user1", models.ActionViewCredential).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cred, err := s.Reveal(context.Background(), "doc1", "user1")
	require.NoError(t, err)
	require.Equal(t, "admin", cred.CredUser)
	require.Equal(t, "s3cret", cred.CredPass)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialService_Reveal_LogFailureHidesSecret(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())

	mock.ExpectBegin()
	mock.ExpectQuery(selectDoc).WithArgs("doc1").
		WillReturnRows(pgxmock.NewRows(docCols).AddRow("doc1", "Firewall", models.DocTypeCredential, "admin", sealed(t, "doc1", "s3cret")))
	mock.ExpectExec(insertAccess).WithArgs("doc1", "user1", models.ActionViewCredential).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	cred, err := s.Reveal(context.Background(), "doc1", "user1")
	require.ErrorContains(t, err, "failed to write access log: disk full")
	require.Nil(t, cred)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialService_Reveal_CommitFailureHidesSecret(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())

	mock.ExpectBegin()
	mock.ExpectQuery(selectDoc).WithArgs("doc1").
		WillReturnRows(pgxmock.NewRows(docCols).AddRow("doc1", "Firewall", models.DocTypeCredential, "admin", sealed(t, "doc1", "s3cret")))
	mock.ExpectExec(insertAccess).WithArgs("doc1", "user1", models.ActionViewCredential).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("conn reset"))

	cred, err := s.Reveal(context.Background(), "doc1", "user1")
	require.ErrorContains(t, err, "failed to commit reveal: conn reset")
	require.Nil(t, cred)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialService_Reveal_NotCredential(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())

	mock.ExpectBegin()
	mock.ExpectQuery(selectDoc).WithArgs("doc2").
		WillReturnRows(pgxmock.NewRows(docCols).AddRow("doc2", "Runbook", "Manual", "", []byte(nil)))
	mock.ExpectRollback()

	_, err := s.Reveal(context.Background(), "doc2", "user1")
	require.ErrorIs(t, err, errs.ErrNotCredential)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialService_Reveal_NotFound(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())

	mock.ExpectBegin()
	mock.ExpectQuery(selectDoc).WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Reveal(context.Background(), "missing", "user1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCredentialService_Reveal_NoKey(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, nil)

	_, err := s.Reveal(context.Background(), "doc1", "user1")
	require.ErrorIs(t, err, ErrNoCredentialKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialService_RecentAccess(t *testing.T) {
	mock := newMock(t)
	s := NewCredentialService(mock, credKey())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, document_id, user_id, action, created_at\s+FROM doc_access_logs WHERE document_id = \$1`).
		WithArgs("doc1", 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "user_id", "action", "created_at"}).
			AddRow("l2", "doc1", "u2", models.ActionViewCredential, now).
			AddRow("l1", "doc1", "u1", models.ActionViewCredential, now.Add(-time.Minute)))

	logs, err := s.RecentAccess(context.Background(), "doc1", 20)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "u2", logs[0].UserID)
}
