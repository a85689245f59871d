package repository

import (
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/google/uuid"
)

const runColumns = `id, mode, resume, status, stats, started_at, finished_at, error_message`

// runRepository implements RunRepository
type runRepository struct {
	db dbExecutor
}

// NewRunRepository creates a new pipeline run repository
func NewRunRepository(db dbExecutor) RunRepository {
	return &runRepository{db: db}
}

func scanRun(row rowScanner) (*models.PipelineRun, error) {
	run := &models.PipelineRun{}
	err := row.Scan(
		&run.ID, &run.Mode, &run.Resume, &run.Status, &run.Summary,
		&run.StartedAt, &run.CompletedAt, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Create records the start of a run
func (r *runRepository) Create(run *models.PipelineRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}

	query := `
		INSERT INTO pipeline_runs (id, mode, resume, status, stats, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(query, run.ID, string(run.Mode), run.Resume, string(run.Status), run.Summary, run.StartedAt)
	return mapError(err, "create pipeline run")
}

// Finish stores the final status and summary of a run
func (r *runRepository) Finish(run *models.PipelineRun) error {
	query := `
		UPDATE pipeline_runs
		SET status = $2, stats = $3, finished_at = $4, error_message = $5
		WHERE id = $1`
	result, err := r.db.Exec(query, run.ID, string(run.Status), run.Summary, run.CompletedAt, run.ErrorMessage)
	if err != nil {
		return mapError(err, "finish pipeline run")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *runRepository) GetByID(id uuid.UUID) (*models.PipelineRun, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get pipeline run")
	}
	return run, nil
}

// Latest returns the most recently started run
func (r *runRepository) Latest() (*models.PipelineRun, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		return nil, mapError(err, "get latest pipeline run")
	}
	return run, nil
}
