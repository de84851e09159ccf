package sqlite

import (
	"context"
	"fmt"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

var modSortColumns = map[string]string{
	storage.SortName:      "name",
	storage.SortSize:      "size",
	storage.SortCreated:   "created_at",
	storage.SortUpdated:   "updated_at",
	storage.SortRequested: "requested_at",
	storage.SortSource:    "source",
	storage.SortDownloads: "downloads",
	storage.SortID:        "id",
}

var gameSortColumns = map[string]string{
	storage.SortName:          "name",
	storage.SortType:          "type",
	storage.SortCreated:       "created_at",
	storage.SortSource:        "source",
	storage.SortModsCount:     "mods_count",
	storage.SortModsDownloads: "mods_downloads",
	storage.SortID:            "id",
}

func (s *Store) count(ctx context.Context, table string, where *whereClause) (int64, error) {
	var total int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+where.String(), where.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, nil
}

func pageArgs(args []any, page storage.Page) []any {
	limit := page.Limit
	if limit <= 0 {
		limit = -1
	}
	out := append([]any{}, args...)
	return append(out, limit, page.Offset)
}

// ListMods returns one page of mods and the total number of matches.
func (s *Store) ListMods(ctx context.Context, filter storage.ModFilter) ([]storage.Mod, int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := &whereClause{}
	where.in("id", idArgs(filter.IDs))
	where.in("game_id", idArgs(filter.Games))
	where.in("source", stringArgs(filter.Sources))
	if len(filter.Tags) > 0 {
		args := append(idArgs(filter.Tags), len(filter.Tags))
		where.add(`id IN (SELECT mod_id FROM mod_tags WHERE tag_id IN (`+placeholders(len(filter.Tags))+`)
			GROUP BY mod_id HAVING COUNT(DISTINCT tag_id) = ?)`, args...)
	}
	if filter.Name != "" {
		where.add(`name LIKE ? ESCAPE '\'`, likePattern(filter.Name))
	}
	if filter.OnlyDownloaded {
		where.add("condition = 0")
	}

	total, err := s.count(ctx, "mods", where)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + modColumns + ` FROM mods` + where.String() +
		orderBy(modSortColumns, filter.Sort.Field, filter.Sort.Desc, "downloads") + ` LIMIT ? OFFSET ?`
	mods, err := s.queryMods(ctx, query, pageArgs(where.args, filter.Page))
	if err != nil {
		return nil, 0, err
	}

	if filter.WithDependencies && len(mods) > 0 {
		ids := make([]uint64, 0, len(mods))
		for _, m := range mods {
			ids = append(ids, m.ID)
		}
		deps, err := s.dependencies(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range mods {
			mods[i].Dependencies = deps[mods[i].ID]
		}
	}
	return mods, total, nil
}

func (s *Store) queryMods(ctx context.Context, query string, args []any) ([]storage.Mod, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mods: %w", err)
	}
	defer rows.Close()
	mods := []storage.Mod{}
	for rows.Next() {
		mod, err := scanMod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mod: %w", err)
		}
		mods = append(mods, mod)
	}
	return mods, rows.Err()
}

// ListGames returns one page of games and the total number of matches.
func (s *Store) ListGames(ctx context.Context, filter storage.GameFilter) ([]storage.Game, int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := &whereClause{}
	where.in("id", idArgs(filter.IDs))
	where.in("type", stringArgs(filter.Types))
	where.in("source", stringArgs(filter.Sources))
	if len(filter.Genres) > 0 {
		where.add(`id IN (SELECT game_id FROM game_genres WHERE genre_id IN (`+placeholders(len(filter.Genres))+`))`,
			idArgs(filter.Genres)...)
	}
	if filter.Name != "" {
		where.add(`name LIKE ? ESCAPE '\'`, likePattern(filter.Name))
	}

	total, err := s.count(ctx, "games", where)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + gameColumns + ` FROM games` + where.String() +
		orderBy(gameSortColumns, filter.Sort.Field, filter.Sort.Desc, "mods_downloads") + ` LIMIT ? OFFSET ?`
	games, err := s.queryGames(ctx, query, pageArgs(where.args, filter.Page))
	if err != nil {
		return nil, 0, err
	}
	if len(games) > 0 {
		ids := make([]uint64, 0, len(games))
		for _, g := range games {
			ids = append(ids, g.ID)
		}
		genres, err := s.gameGenres(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range games {
			games[i].Genres = genres[games[i].ID]
		}
	}
	return games, total, nil
}

func (s *Store) queryGames(ctx context.Context, query string, args []any) ([]storage.Game, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()
	games := []storage.Game{}
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

// ListTags returns one page of tags, optionally restricted to a game.
func (s *Store) ListTags(ctx context.Context, filter storage.TagFilter) ([]storage.Tag, int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := &whereClause{}
	where.in("id", idArgs(filter.IDs))
	if filter.GameID != 0 {
		where.add(`id IN (SELECT tag_id FROM game_allowed_tags WHERE game_id = ?)`, int64(filter.GameID))
	}
	if filter.Name != "" {
		where.add(`name LIKE ? ESCAPE '\'`, likePattern(filter.Name))
	}
	total, err := s.count(ctx, "tags", where)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name FROM tags`+where.String()+` ORDER BY id LIMIT ? OFFSET ?`,
		pageArgs(where.args, filter.Page)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	tags := []storage.Tag{}
	for rows.Next() {
		var (
			id  int64
			tag storage.Tag
		)
		if err := rows.Scan(&id, &tag.Name); err != nil {
			return nil, 0, fmt.Errorf("scan tag: %w", err)
		}
		tag.ID = uint64(id)
		tags = append(tags, tag)
	}
	return tags, total, rows.Err()
}

// ListGenres returns one page of genres.
func (s *Store) ListGenres(ctx context.Context, filter storage.GenreFilter) ([]storage.Genre, int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := &whereClause{}
	where.in("id", idArgs(filter.IDs))
	if filter.Name != "" {
		where.add(`name LIKE ? ESCAPE '\'`, likePattern(filter.Name))
	}
	total, err := s.count(ctx, "genres", where)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name FROM genres`+where.String()+` ORDER BY id LIMIT ? OFFSET ?`,
		pageArgs(where.args, filter.Page)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list genres: %w", err)
	}
	defer rows.Close()
	genres := []storage.Genre{}
	for rows.Next() {
		var (
			id    int64
			genre storage.Genre
		)
		if err := rows.Scan(&id, &genre.Name); err != nil {
			return nil, 0, fmt.Errorf("scan genre: %w", err)
		}
		genre.ID = uint64(id)
		genres = append(genres, genre)
	}
	return genres, total, rows.Err()
}

// ListResources returns one page of mod resources.
func (s *Store) ListResources(ctx context.Context, filter storage.ResourceFilter) ([]storage.Resource, int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	where := &whereClause{}
	where.in("owner_id", idArgs(filter.OwnerIDs))
	where.in("type", stringArgs(filter.Types))
	total, err := s.count(ctx, "resources", where)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, type, url, owner_id, updated_at FROM resources`+where.String()+` ORDER BY id LIMIT ? OFFSET ?`,
		pageArgs(where.args, filter.Page)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()
	resources := []storage.Resource{}
	for rows.Next() {
		var (
			res              storage.Resource
			id, owner, event int64
		)
		if err := rows.Scan(&id, &res.Type, &res.URL, &owner, &event); err != nil {
			return nil, 0, fmt.Errorf("scan resource: %w", err)
		}
		res.ID = uint64(id)
		res.OwnerID = uint64(owner)
		res.UpdatedAt = fromMillis(event)
		resources = append(resources, res)
	}
	return resources, total, rows.Err()
}

// Counts summarises the catalog.
func (s *Store) Counts(ctx context.Context) (storage.Counts, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Counts{}, err
	}
	var c storage.Counts
	row := s.sqlDB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM mods WHERE condition = 0),
		(SELECT COUNT(*) FROM games),
		(SELECT COUNT(*) FROM genres),
		(SELECT COUNT(*) FROM tags),
		(SELECT COUNT(*) FROM resources),
		(SELECT COALESCE(SUM(downloads), 0) FROM mods)`)
	if err := row.Scan(&c.Mods, &c.Games, &c.Genres, &c.Tags, &c.Resources, &c.ModsDownloads); err != nil {
		return storage.Counts{}, fmt.Errorf("count catalog: %w", err)
	}
	return c, nil
}
