// Package db はリーグサービスのデータアクセス層を提供する。
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout はタイムスタンプの格納形式（固定幅のUTC表記）。
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime は時刻をDB格納用の固定幅UTC文字列に変換する。
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime はDBに格納された文字列を時刻に変換する。
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("タイムスタンプの解析に失敗: %q", s)
}

// Queries はリーグサービスのクエリ実行オブジェクト。
type Queries struct {
	db *sql.DB
}

// New は新しいクエリ実行オブジェクトを生成する。
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// DB は内部のデータベース接続を返す。
func (q *Queries) DB() *sql.DB {
	return q.db
}
