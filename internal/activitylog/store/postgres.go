package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tumi/internal/activitylog/models"
	txcontext "tumi/pkg/platform/tx"
)

// Postgres persists entries in activity_logs.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Append(ctx context.Context, e models.Entry) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO activity_logs (id, created_at, message, severity, category, data, old_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.CreatedAt, e.Message, string(e.Severity), e.Category, nullJSON(e.Data), nullJSON(e.OldData),
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *Postgres) List(ctx context.Context, f models.Filter) ([]models.Entry, error) {
	f = f.Normalized()

	var (
		where []string
		args  []any
	)
	if len(f.Severities) > 0 {
		sev := make([]string, len(f.Severities))
		for i, v := range f.Severities {
			sev[i] = string(v)
		}
		args = append(args, pq.Array(sev))
		where = append(where, fmt.Sprintf("severity = ANY($%d)", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	query := `SELECT id, created_at, message, severity, category, data, old_data FROM activity_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var (
			e             models.Entry
			sev           string
			data, oldData []byte
		)
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Message, &sev, &e.Category, &data, &oldData); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		e.Severity = models.Severity(sev)
		e.Data = data
		e.OldData = oldData
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
