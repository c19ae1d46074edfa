// internal/repository/pg/state.go
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

const schemaSQL = `CREATE SCHEMA IF NOT EXISTS console`

const tableSQL = `CREATE TABLE IF NOT EXISTS console.client_state (
	client_id      TEXT PRIMARY KEY,
	active_shop_id TEXT,
	subject_id     TEXT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// StateRepository keeps the durable client state (active shop pointer and
// subject id) in one row per client.
type StateRepository struct {
	db       DB
	clientID string
}

var (
	_ tenant.PointerStore = (*StateRepository)(nil)
	_ auth.SubjectStore   = (*StateRepository)(nil)
)

func NewStateRepository(db DB, clientID string) *StateRepository {
	return &StateRepository{db: db, clientID: clientID}
}

// EnsureSchema creates the state table if needed.
func (r *StateRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := r.db.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create client_state: %w", err)
	}
	return nil
}

func (r *StateRepository) ActiveShop(ctx context.Context) (string, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(active_shop_id, '')
		 FROM console.client_state
		 WHERE client_id = $1`,
		r.clientID)

	var shopID string
	if err := row.Scan(&shopID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return shopID, nil
}

func (r *StateRepository) SaveActiveShop(ctx context.Context, shopID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO console.client_state (client_id, active_shop_id, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (client_id) DO UPDATE
		 SET active_shop_id = EXCLUDED.active_shop_id, updated_at = NOW()`,
		r.clientID, shopID,
	)
	return err
}

func (r *StateRepository) ClearActiveShop(ctx context.Context) error {
	_, err := r.db.Exec(ctx,
		`UPDATE console.client_state SET active_shop_id = NULL, updated_at = NOW() WHERE client_id = $1`,
		r.clientID,
	)
	return err
}

func (r *StateRepository) SaveSubject(ctx context.Context, subjectID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO console.client_state (client_id, subject_id, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (client_id) DO UPDATE
		 SET subject_id = EXCLUDED.subject_id, updated_at = NOW()`,
		r.clientID, subjectID,
	)
	return err
}

func (r *StateRepository) ClearSubject(ctx context.Context) error {
	_, err := r.db.Exec(ctx,
		`UPDATE console.client_state SET subject_id = NULL, updated_at = NOW() WHERE client_id = $1`,
		r.clientID,
	)
	return err
}

// Subject returns the persisted subject id, or "".
func (r *StateRepository) Subject(ctx context.Context) (string, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(subject_id, '')
		 FROM console.client_state
		 WHERE client_id = $1`,
		r.clientID)

	var subjectID string
	if err := row.Scan(&subjectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return subjectID, nil
}
