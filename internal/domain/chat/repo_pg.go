package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentaliq/api/internal/platform/db"
)

type turnRepoPG struct {
	pool *pgxpool.Pool
}

func NewTurnRepo(pool *pgxpool.Pool) TurnRepository {
	return &turnRepoPG{pool: pool}
}

func (r *turnRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const turnCols = `id, patient_id, author_id, role, content, created_at`

func (r *turnRepoPG) Append(ctx context.Context, patientID uuid.UUID, author Author, content string) (*Turn, error) {
	if author == nil {
		return nil, fmt.Errorf("append turn: nil author")
	}
	role, authorID := authorColumns(author)
	t := &Turn{
		ID:        uuid.New(),
		PatientID: patientID,
		Author:    author,
		Content:   content,
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_turns (id, patient_id, author_id, role, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		t.ID, patientID, authorID, string(role), content,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat turn: %w", err)
	}
	return t, nil
}

func (r *turnRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Turn, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+turnCols+` FROM chat_turns WHERE patient_id = $1 ORDER BY created_at, seq`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	return collectTurns(rows)
}

func (r *turnRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, limit int) ([]*Turn, error) {
	if limit <= 0 {
		return []*Turn{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+turnCols+` FROM chat_turns WHERE patient_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent chat turns: %w", err)
	}
	return collectTurns(rows)
}

func collectTurns(rows pgx.Rows) ([]*Turn, error) {
	defer rows.Close()

	turns := []*Turn{}
	for rows.Next() {
		var (
			t        Turn
			authorID *uuid.UUID
			role     string
		)
		if err := rows.Scan(&t.ID, &t.PatientID, &authorID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		author, err := authorFromColumns(role, authorID)
		if err != nil {
			return nil, fmt.Errorf("chat turn %s: %w", t.ID, err)
		}
		t.Author = author
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat turns: %w", err)
	}
	return turns, nil
}
