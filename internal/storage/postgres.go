package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/aggregate"
	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	run_id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	input_video TEXT NOT NULL,
	output_video TEXT NOT NULL,
	fps DOUBLE PRECISION NOT NULL,
	total_frames_analyzed INTEGER NOT NULL,
	frames_with_face_detected INTEGER NOT NULL,
	total_face_detections INTEGER NOT NULL,
	emotions JSONB NOT NULL DEFAULT '{}',
	activities JSONB NOT NULL DEFAULT '{}',
	anomalies_count INTEGER NOT NULL,
	duration_sec DOUBLE PRECISION,
	anomaly_examples TEXT[] NOT NULL DEFAULT '{}',
	summary_text TEXT NOT NULL,
	interrupted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS anomaly_events (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES analysis_runs(run_id) ON DELETE CASCADE,
	frame_index INTEGER NOT NULL,
	time_sec DOUBLE PRECISION NOT NULL,
	kind TEXT NOT NULL,
	z_score DOUBLE PRECISION NOT NULL,
	motion DOUBLE PRECISION NOT NULL,
	activity TEXT NOT NULL,
	UNIQUE (run_id, frame_index)
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_generated_at ON analysis_runs(generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomaly_events_run_id ON anomaly_events(run_id);
`

// runRow is one analysis_runs row.
type runRow struct {
	RunID           string    `db:"run_id"`
	SchemaVersion   string    `db:"schema_version"`
	GeneratedAt     time.Time `db:"generated_at"`
	InputVideo      string    `db:"input_video"`
	OutputVideo     string    `db:"output_video"`
	FPS             float64   `db:"fps"`
	TotalFrames     int       `db:"total_frames_analyzed"`
	FramesWithFace  int       `db:"frames_with_face_detected"`
	FaceDetections  int       `db:"total_face_detections"`
	Emotions        []byte    `db:"emotions"`
	Activities      []byte    `db:"activities"`
	AnomaliesCount  int       `db:"anomalies_count"`
	DurationSec     *float64  `db:"duration_sec"`
	AnomalyExamples any       `db:"anomaly_examples"`
	SummaryText     string    `db:"summary_text"`
	Interrupted     bool      `db:"interrupted"`
}

// eventRow is one anomaly_events row.
type eventRow struct {
	RunID string `db:"run_id"`
	aggregate.AnomalyEvent
}

// PostgresSink stores each report as one analysis_runs row plus its
// anomaly_events.
type PostgresSink struct {
	db     *sqlx.DB
	logger *zap.Logger
	config config.PostgresConfig
}

// NewPostgresSink opens the pool, pings, and bootstraps the schema when
// AutoMigrate is set.
func NewPostgresSink(ctx context.Context, cfg config.PostgresConfig) (*PostgresSink, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 5
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open("postgres", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresSink{
		db:     db,
		logger: zap.L().Named("postgres-store"),
		config: cfg,
	}
	if cfg.AutoMigrate {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

func dsn(cfg config.PostgresConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// Persist writes the run and its events in one transaction. Re-persisting a
// run id replaces the earlier rows.
func (s *PostgresSink) Persist(ctx context.Context, r *report.Report) error {
	row, err := newRunRow(r)
	if err != nil {
		return &StorageError{Op: "encode", Key: r.RunID, Err: err}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin", Key: r.RunID, Err: err, Retryable: true}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_runs WHERE run_id = $1`, r.RunID); err != nil {
		return &StorageError{Op: "delete_run", Key: r.RunID, Err: err}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO analysis_runs (
			run_id, schema_version, generated_at, input_video, output_video, fps,
			total_frames_analyzed, frames_with_face_detected, total_face_detections,
			emotions, activities, anomalies_count, duration_sec, anomaly_examples,
			summary_text, interrupted
		) VALUES (
			:run_id, :schema_version, :generated_at, :input_video, :output_video, :fps,
			:total_frames_analyzed, :frames_with_face_detected, :total_face_detections,
			:emotions, :activities, :anomalies_count, :duration_sec, :anomaly_examples,
			:summary_text, :interrupted
		)`, row)
	if err != nil {
		return &StorageError{Op: "insert_run", Key: r.RunID, Err: err}
	}

	if rows := eventRows(r); len(rows) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO anomaly_events (run_id, frame_index, time_sec, kind, z_score, motion, activity)
			VALUES (:run_id, :frame_index, :time_sec, :kind, :z_score, :motion, :activity)`, rows)
		if err != nil {
			return &StorageError{Op: "insert_events", Key: r.RunID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Key: r.RunID, Err: err, Retryable: true}
	}
	s.logger.Info("Analysis run stored", zap.String("run_id", r.RunID), zap.Int("anomalies", r.AnomaliesCount))
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func newRunRow(r *report.Report) (*runRow, error) {
	generated, err := time.Parse(time.RFC3339, r.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("generated_at: %w", err)
	}
	emotions, err := json.Marshal(r.Emotions)
	if err != nil {
		return nil, fmt.Errorf("emotions: %w", err)
	}
	activities, err := json.Marshal(r.Activities)
	if err != nil {
		return nil, fmt.Errorf("activities: %w", err)
	}
	examples := r.Summary.AnomalyExamples
	if examples == nil {
		examples = []string{}
	}
	return &runRow{
		RunID:           r.RunID,
		SchemaVersion:   r.SchemaVersion,
		GeneratedAt:     generated,
		InputVideo:      r.InputVideo,
		OutputVideo:     r.OutputVideo,
		FPS:             r.FPS,
		TotalFrames:     r.TotalFramesAnalyzed,
		FramesWithFace:  r.FramesWithFace,
		FaceDetections:  r.TotalFaceDetections,
		Emotions:        emotions,
		Activities:      activities,
		AnomaliesCount:  r.AnomaliesCount,
		DurationSec:     r.Summary.DurationSec,
		AnomalyExamples: pq.Array(examples),
		SummaryText:     r.Summary.Text,
		Interrupted:     r.Interrupted,
	}, nil
}

func eventRows(r *report.Report) []eventRow {
	rows := make([]eventRow, 0, len(r.Anomalies))
	for _, ev := range r.Anomalies {
		rows = append(rows, eventRow{RunID: r.RunID, AnomalyEvent: ev})
	}
	return rows
}
