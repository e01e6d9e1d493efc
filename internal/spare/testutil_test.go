package spare

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// newTestQueries はテスト用のSQLiteデータベースとクエリ実行オブジェクトを生成する。
// 並行テストで複数コネクションから同一DBを見られるよう、一時ファイルを使う。
func newTestQueries(t *testing.T) *sparedb.Queries {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "spare-test.db")
	sqlDB, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("テスト用DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	return sparedb.New(sqlDB)
}

// setTestTime はクラブ設定のテスト用時刻オーバーライドを設定する。
func setTestTime(t *testing.T, queries *sparedb.Queries, at time.Time) {
	t.Helper()

	if err := queries.UpdateClubSettings(context.Background(), sparedb.UpdateClubSettingsParams{
		NotificationDelaySeconds: 60,
		TestCurrentTime:          &at,
	}); err != nil {
		t.Fatalf("テスト用時刻の設定に失敗: %v", err)
	}
}

// seedSpareRequest はテスト用のスペア募集をDBに挿入する。
func seedSpareRequest(t *testing.T, queries *sparedb.Queries, id, requesterID string, now time.Time) {
	t.Helper()

	if err := queries.CreateSpareRequest(context.Background(), sparedb.CreateSpareRequestParams{
		ID:          id,
		RequesterID: requesterID,
		GameDate:    "2026-09-01",
		GameTime:    "19:00",
		Now:         now,
	}); err != nil {
		t.Fatalf("テスト用スペア募集の挿入に失敗: %v", err)
	}
}

// seedQueue はテスト用の通知キューを構築し、通知ラウンドを開始する。
func seedQueue(t *testing.T, queries *sparedb.Queries, spareRequestID string, memberIDs []string, now time.Time) {
	t.Helper()

	for i, memberID := range memberIDs {
		if err := queries.CreateQueueItem(context.Background(), sparedb.CreateQueueItemParams{
			ID:             spareRequestID + "-q" + memberID,
			SpareRequestID: spareRequestID,
			MemberID:       memberID,
			QueueOrder:     int64(i + 1),
			Now:            now,
		}); err != nil {
			t.Fatalf("テスト用キュー項目の挿入に失敗: %v", err)
		}
	}

	rows, err := queries.StartNotificationRound(context.Background(), spareRequestID, now)
	if err != nil {
		t.Fatalf("通知ラウンド開始に失敗: %v", err)
	}
	if rows != 1 {
		t.Fatalf("通知ラウンド開始の影響行数: got %d, want 1", rows)
	}
}
