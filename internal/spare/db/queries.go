package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateSpareRequestParams はスペア募集作成のパラメータ。
type CreateSpareRequestParams struct {
	ID          string
	RequesterID string
	LeagueID    *string
	GameDate    string
	GameTime    string
	Position    *string
	Message     *string
	Now         time.Time
}

// CreateSpareRequest は新しいスペア募集を作成する。
// 作成直後はstatus='open'、通知パイプラインは未開始（NULL）。
func (q *Queries) CreateSpareRequest(ctx context.Context, arg CreateSpareRequestParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO spare_requests (
			id, requester_id, league_id, game_date, game_time, position, message,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'open', ?, ?)`,
		arg.ID, arg.RequesterID, nullStringArg(arg.LeagueID), arg.GameDate, arg.GameTime,
		nullStringArg(arg.Position), nullStringArg(arg.Message),
		FormatTime(arg.Now), FormatTime(arg.Now),
	)
	return err
}

// spareRequestColumns はSELECT句で使うカラムリスト。scanSpareRequestと同期すること。
const spareRequestColumns = `
	id, requester_id, league_id, game_date, game_time, position, message,
	status, notification_status, notification_paused, next_notification_at,
	notification_generation, filled_by_id, filled_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSpareRequest は1行分のスペア募集をスキャンする。
func scanSpareRequest(row rowScanner) (SpareRequest, error) {
	var r SpareRequest
	var leagueID, position, message, notificationStatus, filledByID sql.NullString
	var nextNotificationAt, filledAt sql.NullString
	var paused int64
	var createdAt, updatedAt string
	if err := row.Scan(
		&r.ID, &r.RequesterID, &leagueID, &r.GameDate, &r.GameTime, &position, &message,
		&r.Status, &notificationStatus, &paused, &nextNotificationAt,
		&r.NotificationGeneration, &filledByID, &filledAt, &createdAt, &updatedAt,
	); err != nil {
		return SpareRequest{}, err
	}

	r.LeagueID = nullStringPtr(leagueID)
	r.Position = nullStringPtr(position)
	r.Message = nullStringPtr(message)
	r.NotificationStatus = nullStringPtr(notificationStatus)
	r.FilledByID = nullStringPtr(filledByID)
	r.NotificationPaused = paused != 0

	var err error
	if r.NextNotificationAt, err = parseNullTime(nextNotificationAt); err != nil {
		return SpareRequest{}, err
	}
	if r.FilledAt, err = parseNullTime(filledAt); err != nil {
		return SpareRequest{}, err
	}
	if r.CreatedAt, err = ParseTime(createdAt); err != nil {
		return SpareRequest{}, err
	}
	if r.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return SpareRequest{}, err
	}
	return r, nil
}

// GetSpareRequest はIDでスペア募集を取得する。
func (q *Queries) GetSpareRequest(ctx context.Context, id string) (SpareRequest, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+spareRequestColumns+` FROM spare_requests WHERE id = ?`, id)
	return scanSpareRequest(row)
}

// ListSpareRequests は全スペア募集を作成日時の降順で取得する。
func (q *Queries) ListSpareRequests(ctx context.Context) ([]SpareRequest, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+spareRequestColumns+` FROM spare_requests ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var requests []SpareRequest
	for rows.Next() {
		r, err := scanSpareRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// GetDueSpareRequest は通知期限が到来している募集を1件取得する。
// next_notification_atがNULLのものを最優先し、以降は期限の昇順。
func (q *Queries) GetDueSpareRequest(ctx context.Context, now time.Time) (SpareRequest, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+spareRequestColumns+`
		FROM spare_requests
		WHERE status = 'open'
		  AND notification_status = 'in_progress'
		  AND notification_paused = 0
		  AND (next_notification_at IS NULL OR next_notification_at <= ?)
		ORDER BY next_notification_at ASC NULLS FIRST
		LIMIT 1`,
		FormatTime(now))
	return scanSpareRequest(row)
}

// FillSpareRequestParams はスペア募集の成立処理のパラメータ。
type FillSpareRequestParams struct {
	ID         string
	FilledByID string
	Now        time.Time
}

// FillSpareRequest は募集を成立状態にする。
// status='open'のときだけ成功する条件付きUPDATE。同時成立の競合を1人に絞る。
// 影響行数を返す。
func (q *Queries) FillSpareRequest(ctx context.Context, arg FillSpareRequestParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET status = 'filled', filled_by_id = ?, filled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'open'`,
		arg.FilledByID, FormatTime(arg.Now), FormatTime(arg.Now), arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CancelSpareRequest は募集をキャンセル状態にする。status='open'のときだけ成功する。
func (q *Queries) CancelSpareRequest(ctx context.Context, id string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'open'`,
		FormatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetNotificationPaused は通知の一時停止フラグを更新する。
func (q *Queries) SetNotificationPaused(ctx context.Context, id string, paused bool, now time.Time) (int64, error) {
	pausedInt := 0
	if paused {
		pausedInt = 1
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests SET notification_paused = ?, updated_at = ? WHERE id = ?`,
		pausedInt, FormatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartNotificationRound は通知ラウンドを開始する。
// キュー構築後に呼ばれ、notification_status='in_progress'と初回通知時刻を設定する。
// 既にラウンドが進行中の場合は影響行数0を返す。
func (q *Queries) StartNotificationRound(ctx context.Context, id string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET notification_status = 'in_progress', next_notification_at = ?, updated_at = ?
		WHERE id = ? AND status = 'open'
		  AND (notification_status IS NULL OR notification_status IN ('completed', 'stopped'))`,
		FormatTime(now), FormatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FinishNotificationRound は通知ラウンドを終了状態にする。
// statusには'completed'（キュー枯渇）または'stopped'（募集解決）を指定する。
func (q *Queries) FinishNotificationRound(ctx context.Context, id, status string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET notification_status = ?, next_notification_at = NULL, updated_at = ?
		WHERE id = ?`,
		status, FormatTime(now), id)
	return err
}

// ScheduleNextNotification は次の通知予定時刻を設定する。
func (q *Queries) ScheduleNextNotification(ctx context.Context, id string, next, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests SET next_notification_at = ?, updated_at = ? WHERE id = ?`,
		FormatTime(next), FormatTime(now), id)
	return err
}

// ReopenNotificationRound は通知パイプラインを初期状態に戻し、世代番号を進める。
// 進行中のラウンドがある場合は影響行数0を返す。
// 世代が変わることで配信台帳のキー空間が切り替わり、
// 前ラウンドで送信済みの会員にも新ラウンドで1回だけ再送信できる。
func (q *Queries) ReopenNotificationRound(ctx context.Context, id string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET notification_generation = notification_generation + 1,
		    notification_status = NULL, next_notification_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'open'
		  AND (notification_status IS NULL OR notification_status IN ('completed', 'stopped'))`,
		FormatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StopResolvedNotificationRounds は解決済み募集の通知ラウンドを停止する。
// openでなくなった募集（成立・キャンセル）のin_progressなラウンドをstoppedにする。
// プロセッサがティックごとに呼び、「openから離れた募集は最終的にstoppedになる」
// という不変条件を外部フローに依存せず満たす。影響行数を返す。
func (q *Queries) StopResolvedNotificationRounds(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_requests
		SET notification_status = 'stopped', next_notification_at = NULL, updated_at = ?
		WHERE status != 'open' AND notification_status = 'in_progress'`,
		FormatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateQueueItemParams は通知キュー項目作成のパラメータ。
type CreateQueueItemParams struct {
	ID             string
	SpareRequestID string
	MemberID       string
	QueueOrder     int64
	Now            time.Time
}

// CreateQueueItem は通知キューに1件追加する。
// (spare_request_id, member_id) は一意制約があるため、同じ会員の重複登録は失敗する。
func (q *Queries) CreateQueueItem(ctx context.Context, arg CreateQueueItemParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO spare_notification_queue (id, spare_request_id, member_id, queue_order, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		arg.ID, arg.SpareRequestID, arg.MemberID, arg.QueueOrder, FormatTime(arg.Now))
	return err
}

// scanQueueItem は1行分のキュー項目をスキャンする。
func scanQueueItem(row rowScanner) (QueueItem, error) {
	var (
		item                  QueueItem
		claimedAt, notifiedAt sql.NullString
		createdAt             string
	)
	if err := row.Scan(
		&item.ID, &item.SpareRequestID, &item.MemberID, &item.QueueOrder,
		&claimedAt, &notifiedAt, &createdAt,
	); err != nil {
		return QueueItem{}, err
	}

	var err error
	if item.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return QueueItem{}, err
	}
	if item.NotifiedAt, err = parseNullTime(notifiedAt); err != nil {
		return QueueItem{}, err
	}
	if item.CreatedAt, err = ParseTime(createdAt); err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

// queueItemColumns はSELECT句で使うカラムリスト。scanQueueItemと同期すること。
const queueItemColumns = `id, spare_request_id, member_id, queue_order, claimed_at, notified_at, created_at`

// GetNextQueueItem は次に通知すべきキュー項目を取得する。
// 未通知かつクレームが失効している（または無い）項目のうち、queue_orderが最小のもの。
// 同順位は挿入順（rowid）で解決する。
func (q *Queries) GetNextQueueItem(ctx context.Context, spareRequestID string, claimExpiredBefore time.Time) (QueueItem, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM spare_notification_queue
		WHERE spare_request_id = ?
		  AND notified_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < ?)
		ORDER BY queue_order ASC, rowid ASC
		LIMIT 1`,
		spareRequestID, FormatTime(claimExpiredBefore))
	return scanQueueItem(row)
}

// ClaimQueueItemParams はキュー項目クレーム取得のパラメータ。
type ClaimQueueItemParams struct {
	ID                 string
	Now                time.Time
	ClaimExpiredBefore time.Time
}

// ClaimQueueItem はキュー項目のクレームを取得する条件付きUPDATE。
// 取得時と同じ述語で更新するため、他プロセッサに先を越された場合は影響行数0を返す。
func (q *Queries) ClaimQueueItem(ctx context.Context, arg ClaimQueueItemParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_queue
		SET claimed_at = ?
		WHERE id = ?
		  AND notified_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < ?)`,
		FormatTime(arg.Now), arg.ID, FormatTime(arg.ClaimExpiredBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseQueueItemClaim はキュー項目のクレームを解放する。
// 送信失敗時に呼ばれ、次のティックで再試行可能にする。
func (q *Queries) ReleaseQueueItemClaim(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_queue SET claimed_at = NULL WHERE id = ? AND notified_at IS NULL`, id)
	return err
}

// MarkQueueItemNotified はキュー項目を通知済みにする。
// notified_atは一度設定したら変更しない（write-once）。既に通知済みなら影響行数0。
func (q *Queries) MarkQueueItemNotified(ctx context.Context, id string, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_queue
		SET notified_at = ?, claimed_at = NULL
		WHERE id = ? AND notified_at IS NULL`,
		FormatTime(now), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListQueueItems は募集の通知キューをqueue_order順で取得する。
func (q *Queries) ListQueueItems(ctx context.Context, spareRequestID string) ([]QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueItemColumns+`
		FROM spare_notification_queue
		WHERE spare_request_id = ?
		ORDER BY queue_order ASC, rowid ASC`,
		spareRequestID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteQueueItems は募集の通知キューを全件削除する。
// 再募集（世代更新）の前処理として呼ばれる。配信台帳は削除しない。
func (q *Queries) DeleteQueueItems(ctx context.Context, spareRequestID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM spare_notification_queue WHERE spare_request_id = ?`, spareRequestID)
	return err
}

// DeleteQueueItem はIDで指定した1件のキュー項目を削除する。
func (q *Queries) DeleteQueueItem(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM spare_notification_queue WHERE id = ?`, id)
	return err
}

// DeliveryKeyParams は配信台帳のキーを構成するパラメータ。
type DeliveryKeyParams struct {
	SpareRequestID string
	MemberID       string
	Generation     int64
	Channel        string
	Kind           string
}

// InsertDeliveryIfAbsent は配信台帳にキーに対応する行を挿入する。
// 既に存在する場合は何もしない（INSERT OR IGNORE）。
func (q *Queries) InsertDeliveryIfAbsent(ctx context.Context, id string, key DeliveryKeyParams, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO spare_notification_deliveries
			(id, spare_request_id, member_id, generation, channel, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, key.SpareRequestID, key.MemberID, key.Generation, key.Channel, key.Kind, FormatTime(now))
	return err
}

// ClaimDelivery は配信台帳の送信クレームを取得する条件付きUPDATE。
// 未送信かつクレームが失効している場合のみ成功する。影響行数を返す。
func (q *Queries) ClaimDelivery(ctx context.Context, key DeliveryKeyParams, now, claimExpiredBefore time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_deliveries
		SET claimed_at = ?
		WHERE spare_request_id = ? AND member_id = ? AND generation = ? AND channel = ? AND kind = ?
		  AND sent_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < ?)`,
		FormatTime(now),
		key.SpareRequestID, key.MemberID, key.Generation, key.Channel, key.Kind,
		FormatTime(claimExpiredBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkDeliverySent は配信台帳を送信済みにし、クレームを解放する。
// sent_atは一度設定したら変更しない（write-once）。
func (q *Queries) MarkDeliverySent(ctx context.Context, key DeliveryKeyParams, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_deliveries
		SET sent_at = ?, claimed_at = NULL
		WHERE spare_request_id = ? AND member_id = ? AND generation = ? AND channel = ? AND kind = ?
		  AND sent_at IS NULL`,
		FormatTime(now),
		key.SpareRequestID, key.MemberID, key.Generation, key.Channel, key.Kind)
	return err
}

// ReleaseDeliveryClaim は配信台帳の送信クレームを解放する。
func (q *Queries) ReleaseDeliveryClaim(ctx context.Context, key DeliveryKeyParams) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE spare_notification_deliveries
		SET claimed_at = NULL
		WHERE spare_request_id = ? AND member_id = ? AND generation = ? AND channel = ? AND kind = ?
		  AND sent_at IS NULL`,
		key.SpareRequestID, key.MemberID, key.Generation, key.Channel, key.Kind)
	return err
}

// GetDelivery は配信台帳のレコードをキーで取得する。
func (q *Queries) GetDelivery(ctx context.Context, key DeliveryKeyParams) (Delivery, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, spare_request_id, member_id, generation, channel, kind, claimed_at, sent_at, created_at
		FROM spare_notification_deliveries
		WHERE spare_request_id = ? AND member_id = ? AND generation = ? AND channel = ? AND kind = ?`,
		key.SpareRequestID, key.MemberID, key.Generation, key.Channel, key.Kind)

	var (
		d                 Delivery
		claimedAt, sentAt sql.NullString
		createdAt         string
	)
	if err := row.Scan(
		&d.ID, &d.SpareRequestID, &d.MemberID, &d.Generation, &d.Channel, &d.Kind,
		&claimedAt, &sentAt, &createdAt,
	); err != nil {
		return Delivery{}, err
	}

	var err error
	if d.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return Delivery{}, err
	}
	if d.SentAt, err = parseNullTime(sentAt); err != nil {
		return Delivery{}, err
	}
	if d.CreatedAt, err = ParseTime(createdAt); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// GetClubSettings はクラブ設定（単一行）を取得する。
func (q *Queries) GetClubSettings(ctx context.Context) (ClubSettings, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT notification_delay_seconds, test_current_time FROM club_settings WHERE id = 1`)

	var (
		s               ClubSettings
		testCurrentTime sql.NullString
	)
	if err := row.Scan(&s.NotificationDelaySeconds, &testCurrentTime); err != nil {
		return ClubSettings{}, err
	}

	var err error
	if s.TestCurrentTime, err = parseNullTime(testCurrentTime); err != nil {
		return ClubSettings{}, err
	}
	return s, nil
}

// UpdateClubSettingsParams はクラブ設定更新のパラメータ。
type UpdateClubSettingsParams struct {
	NotificationDelaySeconds int64
	TestCurrentTime          *time.Time
}

// UpdateClubSettings はクラブ設定を更新する。
func (q *Queries) UpdateClubSettings(ctx context.Context, arg UpdateClubSettingsParams) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE club_settings SET notification_delay_seconds = ?, test_current_time = ? WHERE id = 1`,
		arg.NotificationDelaySeconds, nullTimeArg(arg.TestCurrentTime))
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("club_settingsの行が存在しません")
	}
	return nil
}
