package db

import "time"

// SpareRequest はスペア（代打）募集を表す。
type SpareRequest struct {
	// ID は募集の一意識別子（UUID）。
	ID string
	// RequesterID は募集を出した会員のID。
	RequesterID string
	// LeagueID は対象リーグのID。リーグ外の試合ではNULL。
	LeagueID *string
	// GameDate は対象試合の日付（YYYY-MM-DD）。
	GameDate string
	// GameTime は対象試合の開始時刻（HH:MM）。
	GameTime string
	// Position は募集するポジション。指定がなければNULL。
	Position *string
	// Message は募集に添える自由記述メッセージ。
	Message *string
	// Status は募集の状態（open / filled / cancelled）。
	Status string
	// NotificationStatus は通知パイプラインの状態
	// （NULL / in_progress / completed / stopped）。statusがopenの間のみ意味を持つ。
	NotificationStatus *string
	// NotificationPaused は通知の一時停止フラグ。
	NotificationPaused bool
	// NextNotificationAt は次の通知予定時刻。未スケジュールならNULL。
	NextNotificationAt *time.Time
	// NotificationGeneration は通知ラウンドの世代番号。再募集のたびに増加する。
	NotificationGeneration int64
	// FilledByID は募集を埋めた会員のID。
	FilledByID *string
	// FilledAt は募集が埋まった時刻。
	FilledAt *time.Time
	// CreatedAt は募集の作成時刻。
	CreatedAt time.Time
	// UpdatedAt は募集の最終更新時刻。
	UpdatedAt time.Time
}

// QueueItem は通知キューの1件分。募集ごとの通知候補者リストを構成する。
type QueueItem struct {
	// ID はキュー項目の一意識別子（UUID）。
	ID string
	// SpareRequestID は対象募集のID。
	SpareRequestID string
	// MemberID は通知候補の会員ID。
	MemberID string
	// QueueOrder は募集内での通知順序。小さいほど先に通知される。
	QueueOrder int64
	// ClaimedAt は処理中クレームの取得時刻。タイムアウトで自動失効する。
	ClaimedAt *time.Time
	// NotifiedAt は通知完了時刻。一度設定されたら変更されない。
	NotifiedAt *time.Time
	// CreatedAt はキュー項目の作成時刻。
	CreatedAt time.Time
}

// Delivery は配信台帳の1件分。
// (募集, 会員, 世代, チャネル, 種別) をキーとする冪等性レコードで、
// 同一キーに対する送信を高々1回に抑える。
type Delivery struct {
	// ID は台帳レコードの一意識別子（UUID）。
	ID string
	// SpareRequestID は対象募集のID。
	SpareRequestID string
	// MemberID は送信先会員のID。
	MemberID string
	// Generation は通知ラウンドの世代番号。世代が変わるとキー空間も変わる。
	Generation int64
	// Channel は配信チャネル（email / sms）。
	Channel string
	// Kind は通知の種別（spare_request等）。
	Kind string
	// ClaimedAt は送信クレームの取得時刻。
	ClaimedAt *time.Time
	// SentAt は送信完了時刻。一度設定されたら変更されない。
	SentAt *time.Time
	// CreatedAt は台帳レコードの作成時刻。
	CreatedAt time.Time
}

// ClubSettings はクラブ全体の設定（単一行）。
type ClubSettings struct {
	// NotificationDelaySeconds は通知間の待機秒数。
	NotificationDelaySeconds int64
	// TestCurrentTime はテスト用の現在時刻オーバーライド。通常運用ではNULL。
	TestCurrentTime *time.Time
}
