// Package migration はembed.FSに同梱したSQLファイルでスキーマを段階適用する。
// 適用済みバージョンはschema_migrationsテーブルに記録され、再起動時は
// 未適用分だけが実行される。ダウングレードは扱わない。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
)

// migration は1つのマイグレーションファイルを表す。
// ファイル名は 000001_create_leagues.up.sql の形式で、
// 先頭の連番がバージョン、残りが名前になる。
type migration struct {
	version int
	name    string
	path    string
}

// Run はdir配下の*.up.sqlをバージョン順に適用する。
// 各ファイルはトランザクション内で実行され、成功時にバージョンが記録される。
// 途中で失敗した場合、そのファイルの変更は巻き戻り、適用済み分はそのまま残る。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("schema_migrationsテーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの読み取りに失敗: %w", err)
	}

	pending, err := pendingMigrations(fsys, dir, applied)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの列挙に失敗: %w", err)
	}

	for _, m := range pending {
		if err := applyOne(db, fsys, m); err != nil {
			return fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", m.version, m.name, err)
		}
		log.Printf("[Migration] %06d_%s を適用しました", m.version, m.name)
	}
	return nil
}

// appliedVersions は記録済みのバージョン集合を読み取る。
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// pendingMigrations は未適用のマイグレーションをバージョン昇順で返す。
// 連番とアンダースコアを持たないファイルは対象外として無視する。
func pendingMigrations(fsys fs.FS, dir string, applied map[int]bool) ([]migration, error) {
	paths, err := fs.Glob(fsys, path.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}

	var pending []migration
	for _, p := range paths {
		m, ok := parseFilename(p)
		if !ok || applied[m.version] {
			continue
		}
		pending = append(pending, m)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

// parseFilename はファイルパスからバージョンと名前を取り出す。
func parseFilename(p string) (migration, bool) {
	base := path.Base(p)
	prefix, rest, found := strings.Cut(base, "_")
	if !found {
		return migration{}, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return migration{}, false
	}
	return migration{
		version: version,
		name:    strings.TrimSuffix(rest, ".up.sql"),
		path:    p,
	}, true
}

// applyOne は1つのマイグレーションをトランザクション内で実行し、バージョンを記録する。
func applyOne(db *sql.DB, fsys fs.FS, m migration) error {
	content, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("バージョンの記録に失敗: %w", err)
	}
	return tx.Commit()
}
