package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// Persistence saves terminal artifacts and iteration summaries to Postgres.
// Both activities are best-effort from the workflow's point of view: a
// failed write never fails the research run.
type Persistence struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PersistenceConfig holds Postgres connection settings.
type PersistenceConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPersistence opens the report store connection pool.
func NewPersistence(cfg PersistenceConfig, logger *zap.Logger) (*Persistence, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Persistence{db: db, logger: logger}, nil
}

// NewPersistenceWithDB wraps an existing connection, used by tests.
func NewPersistenceWithDB(db *sqlx.DB, logger *zap.Logger) *Persistence {
	return &Persistence{db: db, logger: logger}
}

// Close releases the connection pool.
func (p *Persistence) Close() error {
	return p.db.Close()
}

// PersistReport upserts the final report row for a workflow. Keyed by
// workflow ID so a retried activity overwrites its own row rather than
// inserting a duplicate.
func (p *Persistence) PersistReport(ctx context.Context, in PersistReportInput) error {
	const q = `
		INSERT INTO research_reports
			(id, workflow_id, query, report, follow_up_questions, verified, issues,
			 iterations, search_results, search_gaps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id) DO UPDATE SET
			report = EXCLUDED.report,
			follow_up_questions = EXCLUDED.follow_up_questions,
			verified = EXCLUDED.verified,
			issues = EXCLUDED.issues,
			iterations = EXCLUDED.iterations,
			search_results = EXCLUDED.search_results,
			search_gaps = EXCLUDED.search_gaps`

	_, err := p.db.ExecContext(ctx, q,
		uuid.New().String(),
		in.WorkflowID,
		in.Query,
		in.Report,
		strings.Join(in.FollowUpQuestions, "\n"),
		in.Verified,
		strings.Join(in.Issues, "\n"),
		in.Iterations,
		in.SearchResults,
		in.SearchGaps,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("persist report for %s: %w", in.WorkflowID, err)
	}

	RecordRunCompletion(in)

	p.logger.Info("Persisted final report",
		zap.String("workflow_id", in.WorkflowID),
		zap.Int("iterations", in.Iterations),
		zap.Bool("verified", in.Verified),
	)
	return nil
}

// RecordRunCompletion updates the run-completion metrics. Called from the
// persistence activity and from the stub registered when no report store is
// configured, so the counters reflect every finished run.
func RecordRunCompletion(in PersistReportInput) {
	status := "flagged"
	if in.Verified {
		status = "verified"
	}
	metrics.ResearchRunsCompleted.WithLabelValues(status).Inc()
	metrics.ResearchIterations.Observe(float64(in.Iterations))
}

// PersistIteration upserts one iteration summary row.
func (p *Persistence) PersistIteration(ctx context.Context, in PersistIterationInput) error {
	const q = `
		INSERT INTO research_iterations
			(id, workflow_id, iteration, topics_touched, search_results, search_gaps,
			 elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, iteration) DO UPDATE SET
			topics_touched = EXCLUDED.topics_touched,
			search_results = EXCLUDED.search_results,
			search_gaps = EXCLUDED.search_gaps,
			elapsed_ms = EXCLUDED.elapsed_ms`

	_, err := p.db.ExecContext(ctx, q,
		uuid.New().String(),
		in.WorkflowID,
		in.Iteration,
		in.TopicsTouched,
		in.SearchResults,
		in.SearchGaps,
		in.ElapsedMs,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("persist iteration %d for %s: %w", in.Iteration, in.WorkflowID, err)
	}
	return nil
}
