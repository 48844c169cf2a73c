package services

import (
	"context"
	"errors"
	"fmt"
	"itdesk/internal/crypto"
	"itdesk/internal/errs"
	"itdesk/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrNoCredentialKey = errors.New("credential key not configured")

type CredentialService struct {
	db  DB
	key []byte
}

func NewCredentialService(db DB, key []byte) *CredentialService {
	return &CredentialService{db: db, key: key}
}

// Reveal decrypts the secret of document id for userID. The access log row is
// written in the same transaction as the read; when it cannot be written the
// secret is not returned.
func (s *CredentialService) Reveal(ctx context.Context, id, userID string) (result *models.RevealedCredential, err error) {
	if len(s.key) == 0 {
		return nil, ErrNoCredentialKey
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin reveal: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			result, err = nil, fmt.Errorf("failed to commit reveal: %w", e)
		}
	}()

	doc := &models.Credential{}
	err = tx.QueryRow(
		ctx,
		`SELECT id, title, type, cred_user, cred_pass_enc FROM documents WHERE id = $1`,
		id,
	).Scan(&doc.ID, &doc.Title, &doc.Type, &doc.CredUser, &doc.CredPassEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.Type != models.DocTypeCredential {
		return nil, errs.ErrNotCredential
	}

	pass, err := crypto.Open(s.key, []byte(doc.ID), doc.CredPassEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	if _, err = tx.Exec(
		ctx,
		`INSERT INTO doc_access_logs (document_id, user_id, action) VALUES ($1, $2, $3)`,
		doc.ID, userID, models.ActionViewCredential,
	); err != nil {
		return nil, fmt.Errorf("failed to write access log: %w", err)
	}

	return &models.RevealedCredential{CredUser: doc.CredUser, CredPass: string(pass)}, nil
}

// RecentAccess lists the latest reveals of document id, newest first.
func (s *CredentialService) RecentAccess(ctx context.Context, id string, limit int) ([]*models.DocAccessLog, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT id, document_id, user_id, action, created_at
		 FROM doc_access_logs WHERE document_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list access logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.DocAccessLog{}
	for rows.Next() {
		l := &models.DocAccessLog{}
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.UserID, &l.Action, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list access logs: %w", err)
	}
	return logs, nil
}
