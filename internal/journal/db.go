package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database журнал команд в PostgreSQL
type Database struct {
	DB *sql.DB
}

// New открывает соединение и проверяет его
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Database{DB: db}, nil
}

// Init создает таблицы, если их нет
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		connected_at TIMESTAMP NOT NULL,
		disconnected_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		command TEXT NOT NULL,
		actuator TEXT NOT NULL,
		source TEXT NOT NULL,
		argument TEXT NOT NULL,
		invocation TEXT,
		simulated BOOLEAN NOT NULL,
		output TEXT,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS dispatches_session_idx ON dispatches (session_id, created_at);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return err
}

func (d *Database) Close() error {
	return d.DB.Close()
}
