package migration

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// newTestDB はテスト用のSQLiteデータベースを生成する。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "migration-test.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("テスト用DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("ファイル名のバージョン順に適用されること", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		// Globの辞書順とバージョン順が食い違っても、バージョン順で適用される
		fsys := fstest.MapFS{
			"migrations/000002_add_column.up.sql": &fstest.MapFile{
				Data: []byte("ALTER TABLE teams ADD COLUMN sheet TEXT"),
			},
			"migrations/000001_create_teams.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE teams (id TEXT PRIMARY KEY, name TEXT NOT NULL)"),
			},
			"migrations/readme.txt": &fstest.MapFile{Data: []byte("対象外ファイル")},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		// 2番目のマイグレーションで追加されたカラムまで使えること
		if _, err := db.Exec("INSERT INTO teams (id, name, sheet) VALUES ('t1', 'Rock Stars', 'A')"); err != nil {
			t.Fatalf("適用後のテーブルへの挿入に失敗: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの読み取りに失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("記録されたバージョン数: got %d, want 2", count)
		}
	})

	t.Run("再実行しても適用済みマイグレーションはスキップされること", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_create_teams.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE teams (id TEXT PRIMARY KEY)"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("初回のRun()でエラーが発生: %v", err)
		}
		// CREATE TABLEを再実行すればエラーになるため、スキップされた証明になる
		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 1").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの読み取りに失敗: %v", err)
		}
		if count != 1 {
			t.Errorf("バージョン1の記録数: got %d, want 1", count)
		}
	})

	t.Run("途中で失敗した場合は以降のマイグレーションが適用されないこと", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_create_teams.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE teams (id TEXT PRIMARY KEY)"),
			},
			"migrations/000002_broken.up.sql": &fstest.MapFile{
				Data: []byte("THIS IS NOT SQL"),
			},
			"migrations/000003_create_games.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE games (id TEXT PRIMARY KEY)"),
			},
		}

		if err := Run(db, fsys, "migrations"); err == nil {
			t.Fatal("壊れたマイグレーションでエラーが返らなかった")
		}

		// バージョン1だけが適用されている
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの読み取りに失敗: %v", err)
		}
		if count != 1 {
			t.Errorf("記録されたバージョン数: got %d, want 1", count)
		}
		if _, err := db.Exec("INSERT INTO games (id) VALUES ('g1')"); err == nil {
			t.Error("失敗より後のマイグレーションが適用されている")
		}
	})
}
