package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"runhub/internal/domain/knowledge"
	applog "runhub/internal/platform/log"
)

// FeedbackStore 结果反馈的 PostgreSQL 持久化。
// 核心只校验与转发，存储细节全部在这一层。
type FeedbackStore struct {
	db *sql.DB
}

// NewFeedbackStore 创建反馈存储
func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// EnsureTable 建表（幂等）
func (s *FeedbackStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS result_feedback (
			id          UUID PRIMARY KEY,
			runbook_id  TEXT NOT NULL,
			procedure_id TEXT,
			outcome     TEXT NOT NULL,
			notes       TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_result_feedback_runbook ON result_feedback (runbook_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure result_feedback table: %w", err)
	}
	return nil
}

// Record 写入一条反馈记录
func (s *FeedbackStore) Record(ctx context.Context, rec *knowledge.FeedbackRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_feedback (id, runbook_id, procedure_id, outcome, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.RunbookID, nullable(rec.ProcedureID), rec.Outcome, nullable(rec.Notes), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}

	applog.Debug("[Feedback] Recorded", "id", rec.ID, "runbook_id", rec.RunbookID, "outcome", rec.Outcome)
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
