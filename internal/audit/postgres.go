package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresRepository is the production Repository over PostgreSQL.
// Metadata is stored as a JSONB column.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository over an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Log records a workflow event.
func (r *PostgresRepository) Log(rec Record) (*Entry, error) {
	entry := &Entry{
		ID:          uuid.New().String(),
		ActorID:     rec.ActorID,
		Action:      rec.Action,
		SubjectName: rec.SubjectName,
		CreatedAt:   time.Now().UTC(),
	}
	if len(rec.Metadata) > 0 {
		entry.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			entry.Metadata[k] = v
		}
	}

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO audit_entries (id, actor_id, action, subject_name, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, entry.Action, entry.SubjectName, metadata, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// QueryByActor retrieves entries for an actor, newest first.
func (r *PostgresRepository) QueryByActor(actorID string, limit int) ([]*Entry, error) {
	query := `
		SELECT id, actor_id, action, subject_name, metadata, created_at
		FROM audit_entries
		WHERE actor_id = $1
		ORDER BY created_at DESC`
	args := []any{actorID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var results []*Entry
	for rows.Next() {
		var entry Entry
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.SubjectName, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		results = append(results, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return results, nil
}
