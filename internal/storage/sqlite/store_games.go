package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

const gameColumns = `id, name, type, logo, short_description, description,
	mods_downloads, mods_count, source, created_at`

func scanGame(row rowScanner) (storage.Game, error) {
	var (
		game      storage.Game
		id        int64
		createdAt int64
	)
	if err := row.Scan(
		&id,
		&game.Name,
		&game.Type,
		&game.Logo,
		&game.ShortDescription,
		&game.Description,
		&game.ModsDownloads,
		&game.ModsCount,
		&game.Source,
		&createdAt,
	); err != nil {
		return storage.Game{}, err
	}
	game.ID = uint64(id)
	game.CreatedAt = fromMillis(createdAt)
	return game, nil
}

// GetGame returns one game by ID with its genre IDs.
func (s *Store) GetGame(ctx context.Context, id uint64) (storage.Game, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Game{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE id = ?`, int64(id))
	game, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Game{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Game{}, fmt.Errorf("get game: %w", err)
	}
	genres, err := s.gameGenres(ctx, []uint64{id})
	if err != nil {
		return storage.Game{}, err
	}
	game.Genres = genres[id]
	return game, nil
}

// HasGame reports whether a game is registered.
func (s *Store) HasGame(ctx context.Context, id uint64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, int64(id)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check game: %w", err)
	}
	return true, nil
}

// UpsertGame registers or refreshes a game and its genres. Counters and the
// registration time of an existing game are preserved.
func (s *Store) UpsertGame(ctx context.Context, game storage.Game, genres []storage.Genre) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if game.ID == 0 {
		return fmt.Errorf("game id is required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO games (id, name, type, logo, short_description, description, source, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   type = excluded.type,
			   logo = excluded.logo,
			   short_description = excluded.short_description,
			   description = excluded.description,
			   source = excluded.source`,
			int64(game.ID),
			game.Name,
			game.Type,
			game.Logo,
			game.ShortDescription,
			game.Description,
			game.Source,
			toMillis(game.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert game: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM game_genres WHERE game_id = ?`, int64(game.ID)); err != nil {
			return fmt.Errorf("clear game genres: %w", err)
		}
		for _, genre := range genres {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO genres (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
				int64(genre.ID), genre.Name,
			); err != nil {
				return fmt.Errorf("upsert genre: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO game_genres (game_id, genre_id) VALUES (?, ?)`,
				int64(game.ID), int64(genre.ID),
			); err != nil {
				return fmt.Errorf("link game genre: %w", err)
			}
		}
		return refreshModsCount(ctx, tx, game.ID)
	})
}

func (s *Store) gameGenres(ctx context.Context, ids []uint64) (map[uint64][]uint64, error) {
	out := make(map[uint64][]uint64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT game_id, genre_id FROM game_genres WHERE game_id IN (`+placeholders(len(ids))+`) ORDER BY game_id, genre_id`,
		idArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query game genres: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var gameID, genreID int64
		if err := rows.Scan(&gameID, &genreID); err != nil {
			return nil, fmt.Errorf("scan game genre: %w", err)
		}
		out[uint64(gameID)] = append(out[uint64(gameID)], uint64(genreID))
	}
	return out, rows.Err()
}
