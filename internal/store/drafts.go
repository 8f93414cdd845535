// Package store persists in-progress, unsubmitted proposal drafts so a
// form survives reloads without any involvement from the workflow backend.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Draft is a saved form state plus the separately-tracked current-stage
// marker used while no identified proposal is being viewed.
type Draft struct {
	Form  json.RawMessage
	Stage int
}

type DraftStore struct {
	db *sql.DB
}

func NewDraftStore(db *sql.DB) *DraftStore {
	return &DraftStore{db: db}
}

// SaveDraft upserts the subject's draft on every change notification.
func (s *DraftStore) SaveDraft(ctx context.Context, subject string, form json.RawMessage, stage int) error {
	if stage < 1 || stage > 3 {
		stage = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (subject, form, stage, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subject) DO UPDATE SET form=EXCLUDED.form, stage=EXCLUDED.stage, updated_at=NOW()
	`, subject, []byte(form), stage)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// LoadDraft returns the saved draft, or ok=false when there is none.
func (s *DraftStore) LoadDraft(ctx context.Context, subject string) (Draft, bool, error) {
	var (
		form  []byte
		stage int
	)
	err := s.db.QueryRowContext(ctx, `SELECT form, stage FROM drafts WHERE subject=$1`, subject).
		Scan(&form, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("load draft: %w", err)
	}
	return Draft{Form: form, Stage: stage}, true, nil
}

// ClearDraft removes the draft and its stage marker; idempotent.
func (s *DraftStore) ClearDraft(ctx context.Context, subject string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE subject=$1`, subject)
	if err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func (s *DraftStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
