// Package db はスペア募集サービスのデータアクセス層を提供する。
//
// 条件付きUPDATE（compare-and-set）を唯一の排他制御手段として使うため、
// SQLで比較するタイムスタンプはすべてGo側から固定幅のUTC文字列として
// バインドする。これにより文字列比較が時刻の前後関係と一致する。
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeLayout はSQLで比較されるタイムスタンプの格納形式。
// 固定幅のUTC表記なので、SQLiteのTEXT比較が時系列順と一致する。
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime は時刻をDB格納用の固定幅UTC文字列に変換する。
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime はDBに格納された文字列を時刻に変換する。
// datetime('now')デフォルト由来の秒精度表記も受け付ける。
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("タイムスタンプの解析に失敗: %q", s)
}

// Queries はスペア募集サービスのクエリ実行オブジェクト。
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

// nullTimeArg はNULL許容のタイムスタンプをバインド引数に変換する。
func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// nullStringArg はNULL許容の文字列をバインド引数に変換する。
func nullStringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// parseNullTime はスキャンしたNULL許容カラムを*time.Timeに変換する。
func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullStringPtr はスキャンしたNULL許容カラムを*stringに変換する。
func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
