package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/yourusername/gearmarket/services"
)

var DB *sqlx.DB

// Connect opens the pool, retrying while the database container starts up.
func Connect(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database url is empty")
	}

	var err error
	for i := 0; i < 30; i++ {
		DB, err = sqlx.Connect("postgres", databaseURL)
		if err == nil {
			break
		}

		services.Log.Warnf("database connection attempt %d failed: %v", i+1, err)
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to database after retries: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxIdleTime(5 * time.Minute)

	return nil
}

// Ping checks that the pool can reach the database.
func Ping(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not connected")
	}
	return DB.PingContext(ctx)
}

const schema = `
	CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		nickname VARCHAR(64) NOT NULL,
		nickname_key VARCHAR(255) NOT NULL,
		nickname_changed_at TIMESTAMPTZ,
		profile_image_url VARCHAR(500),
		profile_image_blurhash VARCHAR(100),
		is_disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- visually equivalent nicknames share a key
	CREATE UNIQUE INDEX IF NOT EXISTS users_nickname_key_idx ON users (nickname_key);
	CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (LOWER(email));
`

func Migrate() error {
	_, err := DB.Exec(schema)
	return err
}

func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
