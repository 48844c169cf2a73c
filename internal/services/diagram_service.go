package services

import (
	"context"
	"fmt"
	"itdesk/internal/errs"
	"itdesk/internal/models"

	"github.com/gofrs/uuid/v5"
)

type DiagramService struct {
	db DB
}

func NewDiagramService(db DB) *DiagramService {
	return &DiagramService{db: db}
}

// List returns every diagram, most recently updated first.
func (s *DiagramService) List(ctx context.Context) ([]*models.Diagram, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT id, name, data, updated_at FROM diagrams ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	defer rows.Close()

	diagrams := []*models.Diagram{}
	for rows.Next() {
		d := &models.Diagram{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Data, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan diagram: %w", err)
		}
		diagrams = append(diagrams, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}

	return diagrams, nil
}

// Save replaces the whole diagram. A request with an id updates that record,
// creating it if it does not exist; without an id a new record is created.
func (s *DiagramService) Save(ctx context.Context, req *models.SaveDiagramRequest) (*models.Diagram, error) {
	var id string
	if req.ID != nil && *req.ID != "" {
		id = *req.ID
	} else {
		uid, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("failed to generate diagram id: %w", err)
		}
		id = uid.String()
	}

	d := &models.Diagram{}
	err := s.db.QueryRow(
		ctx,
		`INSERT INTO diagrams (id, name, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, updated_at = now()
		 RETURNING id, name, data, updated_at`,
		id, req.Name, req.Data,
	).Scan(&d.ID, &d.Name, &d.Data, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save diagram: %w", err)
	}

	return d, nil
}

func (s *DiagramService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM diagrams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete diagram: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
