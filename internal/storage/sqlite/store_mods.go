package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

const modColumns = `id, game_id, name, short_description, description, size, condition,
	source, downloads, created_at, updated_at, requested_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMod(row rowScanner) (storage.Mod, error) {
	var (
		mod                           storage.Mod
		id, gameID                    int64
		createdAt, updatedAt, reqTime int64
	)
	if err := row.Scan(
		&id,
		&gameID,
		&mod.Name,
		&mod.ShortDescription,
		&mod.Description,
		&mod.Size,
		&mod.Condition,
		&mod.Source,
		&mod.Downloads,
		&createdAt,
		&updatedAt,
		&reqTime,
	); err != nil {
		return storage.Mod{}, err
	}
	mod.ID = uint64(id)
	mod.GameID = uint64(gameID)
	mod.CreatedAt = fromMillis(createdAt)
	mod.UpdatedAt = fromMillis(updatedAt)
	mod.RequestedAt = fromMillis(reqTime)
	return mod, nil
}

// GetMod returns one mod by ID.
func (s *Store) GetMod(ctx context.Context, id uint64) (storage.Mod, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Mod{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+modColumns+` FROM mods WHERE id = ?`, int64(id))
	mod, err := scanMod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Mod{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Mod{}, fmt.Errorf("get mod: %w", err)
	}
	deps, err := s.dependencies(ctx, []uint64{id})
	if err != nil {
		return storage.Mod{}, err
	}
	mod.Dependencies = deps[id]
	return mod, nil
}

// CreatePendingMod inserts a placeholder row in the Pending condition. It
// reports false when the mod already exists.
func (s *Store) CreatePendingMod(ctx context.Context, id uint64, source string, condition int, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO mods (id, condition, source, requested_at) VALUES (?, ?, ?, ?)`,
		int64(id), condition, source, toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("create pending mod: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create pending mod: %w", err)
	}
	return n == 1, nil
}

// UpdateCondition moves a mod from one condition to another. It reports
// false when the mod is missing or not in the expected condition.
func (s *Store) UpdateCondition(ctx context.Context, id uint64, from, to int) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE mods SET condition = ? WHERE id = ? AND condition = ?`,
		to, int64(id), from,
	)
	if err != nil {
		return false, fmt.Errorf("update condition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update condition: %w", err)
	}
	return n == 1, nil
}

// ResetConditions moves every mod in condition from to condition to.
func (s *Store) ResetConditions(ctx context.Context, from, to int) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE mods SET condition = ? WHERE condition = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("reset conditions: %w", err)
	}
	return res.RowsAffected()
}

// ModIDsByCondition lists mod IDs currently in the given condition.
func (s *Store) ModIDsByCondition(ctx context.Context, condition int) ([]uint64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM mods WHERE condition = ? ORDER BY id`, condition)
	if err != nil {
		return nil, fmt.Errorf("list mods by condition: %w", err)
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan mod id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Conditions returns the condition of every known mod among ids.
func (s *Store) Conditions(ctx context.Context, ids []uint64) (map[uint64]int, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	out := make(map[uint64]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, condition FROM mods WHERE id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        int64
			condition int
		)
		if err := rows.Scan(&id, &condition); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out[uint64(id)] = condition
	}
	return out, rows.Err()
}

// CommitMod writes the metadata of a successful fetch and marks the mod
// Downloaded (condition 0) together with its tags, dependencies and
// resources in one transaction.
func (s *Store) CommitMod(ctx context.Context, commit storage.ModCommit) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	mod := commit.Mod
	if mod.ID == 0 {
		return fmt.Errorf("mod id is required")
	}
	now := time.Now().UTC()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mods (id, game_id, name, short_description, description, size, condition, source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   game_id = excluded.game_id,
			   name = excluded.name,
			   short_description = excluded.short_description,
			   description = excluded.description,
			   size = excluded.size,
			   condition = 0,
			   source = excluded.source,
			   created_at = excluded.created_at,
			   updated_at = excluded.updated_at`,
			int64(mod.ID),
			int64(mod.GameID),
			mod.Name,
			mod.ShortDescription,
			mod.Description,
			mod.Size,
			mod.Source,
			toMillis(mod.CreatedAt),
			toMillis(mod.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert mod: %w", err)
		}

		if err := replaceModTags(ctx, tx, mod.ID, mod.GameID, commit.Tags); err != nil {
			return err
		}
		if err := replaceDependencies(ctx, tx, mod, commit.Dependencies); err != nil {
			return err
		}
		if err := replaceResources(ctx, tx, mod.ID, commit.LogoURL, commit.Screenshots, now); err != nil {
			return err
		}
		return refreshModsCount(ctx, tx, mod.GameID)
	})
}

func replaceModTags(ctx context.Context, tx *sql.Tx, modID, gameID uint64, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mod_tags WHERE mod_id = ?`, int64(modID)); err != nil {
		return fmt.Errorf("clear mod tags: %w", err)
	}
	for _, name := range tags {
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID); err != nil {
			return fmt.Errorf("lookup tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO mod_tags (mod_id, tag_id) VALUES (?, ?)`, int64(modID), tagID,
		); err != nil {
			return fmt.Errorf("link mod tag: %w", err)
		}
		if gameID != 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO game_allowed_tags (game_id, tag_id) VALUES (?, ?)`, int64(gameID), tagID,
			); err != nil {
				return fmt.Errorf("allow game tag: %w", err)
			}
		}
	}
	return nil
}

// replaceDependencies records dependency links only. Unknown dependencies
// get no mod row until a client requests them.
func replaceDependencies(ctx context.Context, tx *sql.Tx, mod storage.Mod, deps []uint64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mod_dependencies WHERE mod_id = ?`, int64(mod.ID)); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	for _, dep := range deps {
		if dep == 0 || dep == mod.ID {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO mod_dependencies (mod_id, dependency_id) VALUES (?, ?)`,
			int64(mod.ID), int64(dep),
		); err != nil {
			return fmt.Errorf("link dependency: %w", err)
		}
	}
	return nil
}

func replaceResources(ctx context.Context, tx *sql.Tx, modID uint64, logo string, screenshots []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE owner_id = ?`, int64(modID)); err != nil {
		return fmt.Errorf("clear resources: %w", err)
	}
	insert := func(kind, url string) error {
		if url == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO resources (type, url, owner_id, updated_at) VALUES (?, ?, ?, ?)`,
			kind, url, int64(modID), toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
		return nil
	}
	if err := insert(storage.ResourceLogo, logo); err != nil {
		return err
	}
	for _, url := range screenshots {
		if err := insert(storage.ResourceScreenshot, url); err != nil {
			return err
		}
	}
	return nil
}

func refreshModsCount(ctx context.Context, tx *sql.Tx, gameID uint64) error {
	if gameID == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE games SET mods_count = (SELECT COUNT(*) FROM mods WHERE game_id = ? AND condition = 0) WHERE id = ?`,
		int64(gameID), int64(gameID),
	)
	if err != nil {
		return fmt.Errorf("refresh mods count: %w", err)
	}
	return nil
}

// DeleteMod removes a mod and its dependent rows. It reports whether a row
// was actually deleted.
func (s *Store) DeleteMod(ctx context.Context, id uint64) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var gameID int64
		err := tx.QueryRowContext(ctx, `SELECT game_id FROM mods WHERE id = ?`, int64(id)).Scan(&gameID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup mod: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mods WHERE id = ?`, int64(id)); err != nil {
			return fmt.Errorf("delete mod: %w", err)
		}
		deleted = true
		return refreshModsCount(ctx, tx, uint64(gameID))
	})
	return deleted, err
}

// RecordDownload bumps the download counters of a mod and its game.
func (s *Store) RecordDownload(ctx context.Context, id uint64, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE mods SET downloads = downloads + 1, requested_at = ? WHERE id = ?`,
			toMillis(at), int64(id),
		)
		if err != nil {
			return fmt.Errorf("record mod download: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE games SET mods_downloads = mods_downloads + 1 WHERE id = (SELECT game_id FROM mods WHERE id = ?)`,
			int64(id),
		); err != nil {
			return fmt.Errorf("record game download: %w", err)
		}
		return nil
	})
}

func (s *Store) dependencies(ctx context.Context, ids []uint64) (map[uint64][]uint64, error) {
	out := make(map[uint64][]uint64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT mod_id, dependency_id FROM mod_dependencies WHERE mod_id IN (`+placeholders(len(ids))+`) ORDER BY mod_id, dependency_id`,
		idArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var modID, depID int64
		if err := rows.Scan(&modID, &depID); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out[uint64(modID)] = append(out[uint64(modID)], uint64(depID))
	}
	return out, rows.Err()
}
