package project

import (
	"context"
	"database/sql"
	"time"
)

type Project struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	ClientID  int       `json:"clientId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateProject(ctx context.Context, name string, clientID int) (*Project, error) {
	p := &Project{Name: name, ClientID: clientID, Status: "active"}
	query := `
		INSERT INTO projects (name, client_id)
		VALUES ($1, $2)
		RETURNING id, status, created_at
	`
	err := r.db.QueryRowContext(ctx, query, name, clientID).Scan(&p.ID, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) GetProjectsForClient(ctx context.Context, clientID int) ([]*Project, error) {
	query := `
		SELECT id, name, client_id, status, created_at
		FROM projects
		WHERE client_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.ClientID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
