package db

import "time"

// League はリーグを表す。
type League struct {
	// ID はリーグの一意識別子（UUID）。
	ID string
	// Name はリーグ名。
	Name string
	// DayOfWeek は定例の曜日（monday〜sunday）。
	DayOfWeek string
	// StartTime は定例の開始時刻（HH:MM）。
	StartTime string
	// SeasonStart はシーズン開始日（YYYY-MM-DD）。
	SeasonStart string
	// SeasonEnd はシーズン終了日（YYYY-MM-DD）。
	SeasonEnd string
	// CreatedAt は作成時刻。
	CreatedAt time.Time
	// UpdatedAt は最終更新時刻。
	UpdatedAt time.Time
}

// Game はリーグ内の試合を表す。
type Game struct {
	// ID は試合の一意識別子（UUID）。
	ID string
	// LeagueID は所属リーグのID。
	LeagueID string
	// GameDate は試合日（YYYY-MM-DD）。
	GameDate string
	// GameTime は開始時刻（HH:MM）。
	GameTime string
	// Sheet は使用シート。未定なら空文字。
	Sheet string
	// HomeTeam / AwayTeam は対戦チーム名。
	HomeTeam string
	AwayTeam string
	// CreatedAt は作成時刻。
	CreatedAt time.Time
	// UpdatedAt は最終更新時刻。
	UpdatedAt time.Time
}
