package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Msg("database migrations applied")
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chats (
            id TEXT PRIMARY KEY,
            counterparty TEXT NOT NULL,
            last_activity BIGINT NOT NULL DEFAULT 0,
            unread_count INT NOT NULL DEFAULT 0,
            is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
            notify BOOLEAN NOT NULL DEFAULT TRUE,
            UNIQUE(counterparty)
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            id TEXT NOT NULL,
            sender TEXT NOT NULL,
            content TEXT NOT NULL,
            ts BIGINT NOT NULL,
            status TEXT NOT NULL,
            reply_to TEXT,
            reactions JSONB NOT NULL DEFAULT '[]',
            PRIMARY KEY(chat_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, ts);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
