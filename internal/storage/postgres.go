package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres implements Store on a Postgres database via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

// Open connects to the database, verifies it is reachable and applies the
// embedded migrations.
func Open(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateEphemeralMessage(ctx context.Context, m EphemeralMessage) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO ephemeral_messages (channel_id, message_id, delete_at)
VALUES ($1, $2, $3)
ON CONFLICT (channel_id, message_id) DO UPDATE SET delete_at = EXCLUDED.delete_at
`, m.ChannelID, m.MessageID, m.DeleteAt)
	if err != nil {
		return fmt.Errorf("storage: create ephemeral message: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteEphemeralMessage(ctx context.Context, channelID, messageID string) error {
	_, err := p.db.ExecContext(ctx, `
DELETE FROM ephemeral_messages WHERE channel_id = $1 AND message_id = $2
`, channelID, messageID)
	if err != nil {
		return fmt.Errorf("storage: delete ephemeral message: %w", err)
	}
	return nil
}

func (p *Postgres) ListEphemeralMessages(ctx context.Context) ([]EphemeralMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT channel_id, message_id, delete_at FROM ephemeral_messages
`)
	if err != nil {
		return nil, fmt.Errorf("storage: list ephemeral messages: %w", err)
	}
	defer rows.Close()

	var list []EphemeralMessage
	for rows.Next() {
		var m EphemeralMessage
		if err := rows.Scan(&m.ChannelID, &m.MessageID, &m.DeleteAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (p *Postgres) GuildSetting(ctx context.Context, guildID, key string) (string, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT value FROM guild_settings WHERE guild_id = $1 AND key = $2
`, guildID, key)
	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("storage: guild setting %s: %w", key, err)
	}
	return value.String, nil
}

func (p *Postgres) SetGuildSetting(ctx context.Context, guildID, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO guild_settings (guild_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id, key) DO UPDATE SET value = EXCLUDED.value
`, guildID, key, value)
	if err != nil {
		return fmt.Errorf("storage: set guild setting %s: %w", key, err)
	}
	return nil
}
