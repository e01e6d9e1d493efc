package db

import (
	"context"
	"time"
)

// CreateLeagueParams はリーグ作成のパラメータ。
type CreateLeagueParams struct {
	ID          string
	Name        string
	DayOfWeek   string
	StartTime   string
	SeasonStart string
	SeasonEnd   string
	Now         time.Time
}

// CreateLeague は新しいリーグを作成する。
func (q *Queries) CreateLeague(ctx context.Context, arg CreateLeagueParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO leagues (id, name, day_of_week, start_time, season_start, season_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.DayOfWeek, arg.StartTime, arg.SeasonStart, arg.SeasonEnd,
		FormatTime(arg.Now), FormatTime(arg.Now),
	)
	return err
}

// leagueColumns はSELECT句で使うカラムリスト。scanLeagueと同期すること。
const leagueColumns = `id, name, day_of_week, start_time, season_start, season_end, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLeague は1行分のリーグをスキャンする。
func scanLeague(row rowScanner) (League, error) {
	var l League
	var createdAt, updatedAt string
	if err := row.Scan(
		&l.ID, &l.Name, &l.DayOfWeek, &l.StartTime, &l.SeasonStart, &l.SeasonEnd,
		&createdAt, &updatedAt,
	); err != nil {
		return League{}, err
	}

	var err error
	if l.CreatedAt, err = ParseTime(createdAt); err != nil {
		return League{}, err
	}
	if l.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return League{}, err
	}
	return l, nil
}

// GetLeague はIDでリーグを取得する。
func (q *Queries) GetLeague(ctx context.Context, id string) (League, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+leagueColumns+` FROM leagues WHERE id = ?`, id)
	return scanLeague(row)
}

// ListLeagues は全リーグをシーズン開始日の降順で取得する。
func (q *Queries) ListLeagues(ctx context.Context) ([]League, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+leagueColumns+` FROM leagues ORDER BY season_start DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var leagues []League
	for rows.Next() {
		l, err := scanLeague(rows)
		if err != nil {
			return nil, err
		}
		leagues = append(leagues, l)
	}
	return leagues, rows.Err()
}

// UpdateLeagueParams はリーグ更新のパラメータ。
type UpdateLeagueParams struct {
	ID          string
	Name        string
	DayOfWeek   string
	StartTime   string
	SeasonStart string
	SeasonEnd   string
	Now         time.Time
}

// UpdateLeague はリーグを更新する。影響行数を返す。
func (q *Queries) UpdateLeague(ctx context.Context, arg UpdateLeagueParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE leagues
		SET name = ?, day_of_week = ?, start_time = ?, season_start = ?, season_end = ?, updated_at = ?
		WHERE id = ?`,
		arg.Name, arg.DayOfWeek, arg.StartTime, arg.SeasonStart, arg.SeasonEnd,
		FormatTime(arg.Now), arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteLeague はリーグを削除する。所属する試合もカスケード削除される。影響行数を返す。
func (q *Queries) DeleteLeague(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM leagues WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateGameParams は試合作成のパラメータ。
type CreateGameParams struct {
	ID       string
	LeagueID string
	GameDate string
	GameTime string
	Sheet    string
	HomeTeam string
	AwayTeam string
	Now      time.Time
}

// CreateGame はリーグに試合を追加する。
func (q *Queries) CreateGame(ctx context.Context, arg CreateGameParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO games (id, league_id, game_date, game_time, sheet, home_team, away_team, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.LeagueID, arg.GameDate, arg.GameTime, arg.Sheet, arg.HomeTeam, arg.AwayTeam,
		FormatTime(arg.Now), FormatTime(arg.Now),
	)
	return err
}

// gameColumns はSELECT句で使うカラムリスト。scanGameと同期すること。
const gameColumns = `id, league_id, game_date, game_time, sheet, home_team, away_team, created_at, updated_at`

// scanGame は1行分の試合をスキャンする。
func scanGame(row rowScanner) (Game, error) {
	var g Game
	var createdAt, updatedAt string
	if err := row.Scan(
		&g.ID, &g.LeagueID, &g.GameDate, &g.GameTime, &g.Sheet, &g.HomeTeam, &g.AwayTeam,
		&createdAt, &updatedAt,
	); err != nil {
		return Game{}, err
	}

	var err error
	if g.CreatedAt, err = ParseTime(createdAt); err != nil {
		return Game{}, err
	}
	if g.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return Game{}, err
	}
	return g, nil
}

// GetGame はIDで試合を取得する。
func (q *Queries) GetGame(ctx context.Context, id string) (Game, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	return scanGame(row)
}

// ListGamesByLeague はリーグの試合一覧を日付順で取得する。
func (q *Queries) ListGamesByLeague(ctx context.Context, leagueID string) ([]Game, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE league_id = ?
		ORDER BY game_date ASC, game_time ASC, rowid ASC`,
		leagueID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// DeleteGame は試合を削除する。影響行数を返す。
func (q *Queries) DeleteGame(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
