package diagram

import (
	"context"
	"fmt"

	"itdesk/internal/models"

	"go.uber.org/zap"
)

const DefaultName = "Diagrama Principal"

// Repository stores diagram records. Both the database service and the HTTP
// client implement it.
type Repository interface {
	List(ctx context.Context) ([]*models.Diagram, error)
	Save(ctx context.Context, req *models.SaveDiagramRequest) (*models.Diagram, error)
}

// Editor binds a Canvas to the first diagram record of a repository.
type Editor struct {
	repo   Repository
	log    *zap.Logger
	canvas *Canvas
	id     *string
	name   string
}

// Open loads the most recently updated diagram into a new canvas. A record
// whose data cannot be decoded is logged and opened empty; saving then
// overwrites it.
func Open(ctx context.Context, repo Repository, log *zap.Logger, opts ...Option) (*Editor, error) {
	diagrams, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load diagrams: %w", err)
	}

	e := &Editor{
		repo:   repo,
		log:    log,
		canvas: NewCanvas(opts...),
		name:   DefaultName,
	}
	if len(diagrams) == 0 {
		return e, nil
	}

	d := diagrams[0]
	id := d.ID
	e.id = &id
	if d.Name != "" {
		e.name = d.Name
	}
	if d.Data != "" {
		if err := e.canvas.Load([]byte(d.Data)); err != nil {
			log.Warn("diagram data is malformed, starting empty",
				zap.String("diagram_id", d.ID),
				zap.Error(err),
			)
		}
	}
	return e, nil
}

func (e *Editor) Canvas() *Canvas { return e.canvas }

func (e *Editor) Name() string { return e.name }

func (e *Editor) SetName(name string) { e.name = name }

// ID is empty until the diagram has been saved once.
func (e *Editor) ID() string {
	if e.id == nil {
		return ""
	}
	return *e.id
}

// Save writes the whole element list as one record.
func (e *Editor) Save(ctx context.Context) (*models.Diagram, error) {
	data, err := e.canvas.Serialize()
	if err != nil {
		return nil, err
	}

	saved, err := e.repo.Save(ctx, &models.SaveDiagramRequest{
		ID:   e.id,
		Name: e.name,
		Data: string(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save diagram: %w", err)
	}

	id := saved.ID
	e.id = &id
	e.log.Info("diagram saved", zap.String("diagram_id", id), zap.Int("elements", len(e.canvas.elements)))
	return saved, nil
}
