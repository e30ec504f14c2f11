package chat

import (
	"context"
	"database/sql"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveMessage(ctx context.Context, projectID, senderID int, senderRole, body string) (*Message, error) {
	msg := &Message{
		ProjectID:  projectID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Body:       body,
	}
	query := `
		INSERT INTO project_messages (project_id, sender_id, sender_role, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, projectID, senderID, senderRole, body).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *Repository) GetProjectMessages(ctx context.Context, projectID int) ([]*Message, error) {
	query := `
		SELECT id, project_id, sender_id, sender_role, body, created_at
		FROM project_messages
		WHERE project_id = $1
		ORDER BY created_at ASC
		LIMIT 200
	`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &msg.SenderID, &msg.SenderRole, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
