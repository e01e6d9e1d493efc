package spare

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。比較対象のタイムスタンプはGo側から固定幅UTC文字列で
// バインドするため、カラム型はDATETIME（SQLite上はTEXT）で統一する。
const schema = `
CREATE TABLE IF NOT EXISTS spare_requests (
    -- 募集の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 募集を出した会員のID
    requester_id TEXT NOT NULL,
    -- 対象リーグのID（リーグ外の試合ではNULL）
    league_id TEXT,
    -- 対象試合の日付（YYYY-MM-DD）
    game_date TEXT NOT NULL,
    -- 対象試合の開始時刻（HH:MM）
    game_time TEXT NOT NULL,
    -- 募集するポジション
    position TEXT,
    -- 募集に添える自由記述メッセージ
    message TEXT,
    -- 募集の状態（open / filled / cancelled）
    status TEXT NOT NULL DEFAULT 'open',
    -- 通知パイプラインの状態（NULL / in_progress / completed / stopped）
    notification_status TEXT,
    -- 通知の一時停止フラグ
    notification_paused INTEGER NOT NULL DEFAULT 0,
    -- 次の通知予定時刻
    next_notification_at DATETIME,
    -- 通知ラウンドの世代番号
    notification_generation INTEGER NOT NULL DEFAULT 0,
    -- 募集を埋めた会員のID
    filled_by_id TEXT,
    -- 募集が埋まった時刻
    filled_at DATETIME,
    -- 作成・更新時刻
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- プロセッサの期限到来チェックを高速化するインデックス
CREATE INDEX IF NOT EXISTS idx_spare_requests_due
    ON spare_requests(next_notification_at)
    WHERE status = 'open' AND notification_status = 'in_progress';

CREATE TABLE IF NOT EXISTS spare_notification_queue (
    -- キュー項目の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 対象募集のID
    spare_request_id TEXT NOT NULL,
    -- 通知候補の会員ID
    member_id TEXT NOT NULL,
    -- 募集内での通知順序
    queue_order INTEGER NOT NULL,
    -- 処理中クレームの取得時刻（タイムアウトで失効する）
    claimed_at DATETIME,
    -- 通知完了時刻（write-once）
    notified_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (spare_request_id, member_id),
    FOREIGN KEY (spare_request_id) REFERENCES spare_requests(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_spare_notification_queue_request
    ON spare_notification_queue(spare_request_id, queue_order);

CREATE TABLE IF NOT EXISTS spare_notification_deliveries (
    -- 台帳レコードの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 冪等性キー: (募集, 会員, 世代, チャネル, 種別)
    spare_request_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    generation INTEGER NOT NULL,
    channel TEXT NOT NULL,
    kind TEXT NOT NULL,
    -- 送信クレームの取得時刻
    claimed_at DATETIME,
    -- 送信完了時刻（write-once）
    sent_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    UNIQUE (spare_request_id, member_id, generation, channel, kind),
    FOREIGN KEY (spare_request_id) REFERENCES spare_requests(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS club_settings (
    -- 単一行テーブル（id=1固定）
    id INTEGER PRIMARY KEY CHECK (id = 1),
    -- 通知間の待機秒数
    notification_delay_seconds INTEGER NOT NULL DEFAULT 180,
    -- テスト用の現在時刻オーバーライド
    test_current_time DATETIME
);

INSERT OR IGNORE INTO club_settings (id) VALUES (1);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
