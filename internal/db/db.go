package db

import (
	"context"
	"errors"
	"fmt"

	"character_wiki/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound возвращается, если персонажа нет в архиве.
var ErrNotFound = errors.New("character not archived")

const schema = `
CREATE TABLE IF NOT EXISTS characters (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	image      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	species    TEXT NOT NULL DEFAULT '',
	gender     TEXT NOT NULL DEFAULT '',
	url        TEXT NOT NULL DEFAULT '',
	created    TEXT NOT NULL DEFAULT '',
	source     VARCHAR(2048) NOT NULL DEFAULT '',
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

// Database инкапсулирует пул соединений к PostgreSQL с архивом персонажей.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDB создаёт новый пул соединений по connString и возвращает Database.
func NewDB(ctx context.Context, connString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Database{Pool: pool}, nil
}

// Close закрывает пул соединений.
func (db *Database) Close() {
	db.Pool.Close()
}

// Ping проверяет доступность базы.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Migrate создаёт таблицу архива, если её ещё нет.
func (db *Database) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schema)
	return err
}

// SaveCharacter сохраняет персонажа в таблицу characters.
// Если запись с таким id уже есть, она обновляется. source - курсор страницы, на которой он встретился.
func (db *Database) SaveCharacter(ctx context.Context, ch models.Character, source string) error {
	_, err := db.Pool.Exec(ctx, `
        INSERT INTO characters (id, name, image, status, species, gender, url, created, source)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            image = EXCLUDED.image,
            status = EXCLUDED.status,
            species = EXCLUDED.species,
            gender = EXCLUDED.gender,
            url = EXCLUDED.url,
            created = EXCLUDED.created,
            source = EXCLUDED.source,
            updated_at = NOW()
    `, ch.ID, ch.Name, ch.Image, ch.Status, ch.Species, ch.Gender, ch.URL, ch.Created, source)
	return err
}

// GetCharacter читает одного персонажа из архива.
func (db *Database) GetCharacter(ctx context.Context, id int) (*models.Character, error) {
	var ch models.Character
	err := db.Pool.QueryRow(ctx, `
        SELECT id, name, image, status, species, gender, url, created
        FROM characters
        WHERE id = $1
    `, id).Scan(&ch.ID, &ch.Name, &ch.Image, &ch.Status, &ch.Species, &ch.Gender, &ch.URL, &ch.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}
