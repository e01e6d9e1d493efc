// Package db はAPI Gatewayサービスのデータアクセス層を提供する。
package db

import "database/sql"

// Queries はGatewayサービスのクエリ実行オブジェクト。
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
