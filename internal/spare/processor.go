package spare

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
	"github.com/nao1215/rinkhub/pkg/httpclient"
)

// 通知チャネルと種別の識別子。配信台帳のキーの一部になる。
const (
	channelEmail             = "email"
	channelSMS               = "sms"
	kindSpareRequest         = "spare_request"
	defaultNotificationDelay = 180 * time.Second
	defaultTickInterval      = 5 * time.Second
	infraLogInterval         = 30 * time.Second
)

// Processor はスペア募集の段階的通知を進めるポーリングワーカー。
//
// 一定間隔のティックごとに、期限が到来した募集を1件だけ選び、その通知キューを
// 1ポジションだけ進める。排他制御はすべて条件付きUPDATE（compare-and-set）で
// 行うため、複数のプロセスが同じストアに対して同時に動いても安全であり、
// リーダー選出や分散ロックは不要。クレーム→外部送信→記録の一連の処理は
// 意図的に単一トランザクションにしない。外部送信は遅く失敗しうるので、
// その間トランザクションを開いたままにせず、タイムアウト付きクレームで代替する。
type Processor struct {
	// queries はスペア募集サービスのDBクエリ。
	queries *sparedb.Queries
	// clock は時刻源。期限判定とスケジューリングに使用する。
	clock *Clock
	// ledger は配信の冪等性を保証する台帳。
	ledger *DeliveryLedger
	// notifier は配信トランスポート。
	notifier Notifier
	// memberClient は会員サービスへのHTTPクライアント。
	memberClient *httpclient.Client
	// jwtSecret は参加受諾トークンの署名鍵。
	jwtSecret string
	// publicURL は受諾リンクのベースURL。
	publicURL string
	// interval はティック間隔。
	interval time.Duration
	// claimTimeout はキュー項目クレームの有効期間。
	claimTimeout time.Duration
	// memberGroup は同一会員への同時問い合わせをまとめる。
	memberGroup singleflight.Group

	// mu はlastInfraLogAtを保護する。
	mu sync.Mutex
	// lastInfraLogAt は一時的インフラ障害を最後にログ出力した実時刻。
	lastInfraLogAt time.Time
}

// NewProcessor は新しい通知プロセッサを生成する。
func NewProcessor(queries *sparedb.Queries, clock *Clock, ledger *DeliveryLedger, notifier Notifier, memberClient *httpclient.Client, jwtSecret, publicURL string) *Processor {
	return &Processor{
		queries:      queries,
		clock:        clock,
		ledger:       ledger,
		notifier:     notifier,
		memberClient: memberClient,
		jwtSecret:    jwtSecret,
		publicURL:    publicURL,
		interval:     defaultTickInterval,
		claimTimeout: defaultClaimTimeout,
	}
}

// Start は通知ポーリングループを開始する。
// ctxがキャンセルされると、実行中のティックを完了させてから戻る。
func (p *Processor) Start(ctx context.Context) {
	log.Printf("[Processor] 通知プロセッサを開始します。ティック間隔: %s", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Processor] 通知プロセッサを停止します")
			return
		case <-ticker.C:
			p.runTick(ctx)
		}
	}
}

// runTick は1ティック分の処理を実行し、エラーを分類して処理する。
// 一時的なインフラ障害は抑制付きログのみで、次のティックで暗黙に再試行する。
// それ以外のエラーはそのティック限りの失敗としてログに残し、ループは継続する。
func (p *Processor) runTick(ctx context.Context) {
	// 停止要求が来ても実行中のクレームは完了させる。
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	if err := p.Tick(tickCtx); err != nil {
		if isTransientInfraError(err) {
			p.logInfraThrottled(err)
			return
		}
		log.Printf("[Processor] ティック処理に失敗: %v", err)
	}
}

// Tick は1ティック分の通知処理を実行する。
// 期限到来中の募集を1件選び、そのキューを1ポジションだけ進める。
// 進めるものがなければ何もしない。
func (p *Processor) Tick(ctx context.Context) error {
	now, err := p.clock.NowAsync(ctx)
	if err != nil {
		return fmt.Errorf("現在時刻の取得に失敗: %w", err)
	}

	// 解決済み募集のラウンドを先に畳む。送信は一切行わない。
	if stopped, err := p.queries.StopResolvedNotificationRounds(ctx, now); err != nil {
		return fmt.Errorf("解決済み募集の通知停止に失敗: %w", err)
	} else if stopped > 0 {
		log.Printf("[Processor] 解決済み募集の通知を停止しました: count=%d", stopped)
	}

	req, err := p.queries.GetDueSpareRequest(ctx, now)
	if errors.Is(err, sql.ErrNoRows) {
		// 期限到来中の募集なし
		return nil
	}
	if err != nil {
		return fmt.Errorf("通知対象の募集の取得に失敗: %w", err)
	}

	claimExpiredBefore := now.Add(-p.claimTimeout)
	item, err := p.queries.GetNextQueueItem(ctx, req.ID, claimExpiredBefore)
	if errors.Is(err, sql.ErrNoRows) {
		// キュー枯渇: 全候補への通知が完了した
		if err := p.queries.FinishNotificationRound(ctx, req.ID, "completed", now); err != nil {
			return fmt.Errorf("通知ラウンドの完了記録に失敗: %w", err)
		}
		log.Printf("[Processor] 全候補への通知が完了しました: spare_request_id=%s", req.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("キュー項目の取得に失敗: %w", err)
	}

	rows, err := p.queries.ClaimQueueItem(ctx, sparedb.ClaimQueueItemParams{
		ID:                 item.ID,
		Now:                now,
		ClaimExpiredBefore: claimExpiredBefore,
	})
	if err != nil {
		return fmt.Errorf("キュー項目のクレーム取得に失敗: %w", err)
	}
	if rows == 0 {
		// 他のプロセッサに先を越された。このティックでは再試行しない。
		return nil
	}

	member, requester, err := p.resolveParticipants(ctx, item.MemberID, req.RequesterID)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			// データ不整合。この項目の処理を中断するがループは継続する。
			// クレームは解放し、次のティックで再評価させる。
			log.Printf("[Processor] 会員情報が見つかりません: spare_request_id=%s, member_id=%s, error=%v",
				req.ID, item.MemberID, err)
			if releaseErr := p.queries.ReleaseQueueItemClaim(ctx, item.ID); releaseErr != nil {
				log.Printf("[Processor] クレーム解放に失敗（タイムアウトで失効します）: %v", releaseErr)
			}
			return nil
		}
		if releaseErr := p.queries.ReleaseQueueItemClaim(ctx, item.ID); releaseErr != nil {
			log.Printf("[Processor] クレーム解放に失敗（タイムアウトで失効します）: %v", releaseErr)
		}
		return fmt.Errorf("会員情報の取得に失敗: %w", err)
	}

	if err := p.deliver(ctx, req, member, requester, now); err != nil {
		// プロバイダ障害は一時的なものとして扱う。クレームを解放して
		// エラーを伝播し、次のティック以降で再試行させる。
		if releaseErr := p.queries.ReleaseQueueItemClaim(ctx, item.ID); releaseErr != nil {
			log.Printf("[Processor] クレーム解放に失敗（タイムアウトで失効します）: %v", releaseErr)
		}
		return fmt.Errorf("通知の配信に失敗: %w", err)
	}

	if _, err := p.queries.MarkQueueItemNotified(ctx, item.ID, now); err != nil {
		return fmt.Errorf("通知済み記録に失敗: %w", err)
	}
	log.Printf("[Processor] 通知を送信しました: spare_request_id=%s, member_id=%s, queue_order=%d",
		req.ID, item.MemberID, item.QueueOrder)

	// 送信中に募集が解決していないか確認する。
	// 成立・キャンセルは送信完了後にのみ観測される（送信の中断はしない）。
	latest, err := p.queries.GetSpareRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("募集状態の再取得に失敗: %w", err)
	}
	if latest.Status != "open" {
		if err := p.queries.FinishNotificationRound(ctx, req.ID, "stopped", now); err != nil {
			return fmt.Errorf("通知ラウンドの停止記録に失敗: %w", err)
		}
		log.Printf("[Processor] 募集が解決したため通知を停止します: spare_request_id=%s, status=%s",
			req.ID, latest.Status)
		return nil
	}

	delay := defaultNotificationDelay
	if settings, err := p.queries.GetClubSettings(ctx); err == nil && settings.NotificationDelaySeconds > 0 {
		delay = time.Duration(settings.NotificationDelaySeconds) * time.Second
	}
	if err := p.queries.ScheduleNextNotification(ctx, req.ID, now.Add(delay), now); err != nil {
		return fmt.Errorf("次回通知のスケジュールに失敗: %w", err)
	}
	return nil
}

// memberInfo は会員サービスから取得する会員情報。
type memberInfo struct {
	// ID は会員の一意識別子。
	ID string `json:"id"`
	// Name は会員の氏名。
	Name string `json:"name"`
	// Email は会員のメールアドレス。未登録なら空文字。
	Email string `json:"email"`
	// Phone は会員の電話番号。未登録なら空文字。
	Phone string `json:"phone"`
	// SMSOptIn はSMS通知の受信同意フラグ。
	SMSOptIn bool `json:"sms_opt_in"`
}

// resolveParticipants は通知候補と募集者の会員情報を会員サービスから取得する。
func (p *Processor) resolveParticipants(ctx context.Context, memberID, requesterID string) (member, requester memberInfo, err error) {
	if member, err = p.fetchMember(ctx, memberID); err != nil {
		return memberInfo{}, memberInfo{}, err
	}
	if requester, err = p.fetchMember(ctx, requesterID); err != nil {
		return memberInfo{}, memberInfo{}, err
	}
	return member, requester, nil
}

// fetchMember は会員サービスの内部APIから会員情報を取得する。
// 同一会員への同時問い合わせは1回のリクエストにまとめる。
func (p *Processor) fetchMember(ctx context.Context, memberID string) (memberInfo, error) {
	v, err, _ := p.memberGroup.Do(memberID, func() (any, error) {
		var info memberInfo
		if err := p.memberClient.GetJSON(ctx, "/api/v1/internal/members/"+memberID, &info); err != nil {
			return memberInfo{}, err
		}
		return info, nil
	})
	if err != nil {
		return memberInfo{}, err
	}
	return v.(memberInfo), nil
}

// deliver は候補会員へ募集通知を配信する。
// メールアドレスがあればメール、電話番号がありSMS受信に同意していればSMSを送る。
// 各チャネルは配信台帳の別キーで冪等化されるため、片方が失敗して再試行しても
// 成功済みチャネルが重複送信されることはない。
func (p *Processor) deliver(ctx context.Context, req sparedb.SpareRequest, member, requester memberInfo, now time.Time) error {
	var firstErr error

	if member.Email != "" {
		token, err := issueAcceptToken(p.jwtSecret, member.ID, req.ID, now)
		if err != nil {
			return fmt.Errorf("受諾トークンの発行に失敗: %w", err)
		}
		acceptURL := p.publicURL + "/api/v1/spares/accept?token=" + url.QueryEscape(token)

		key := DeliveryKey{
			SpareRequestID: req.ID,
			MemberID:       member.ID,
			Generation:     req.NotificationGeneration,
			Channel:        channelEmail,
			Kind:           kindSpareRequest,
		}
		if _, err := p.ledger.SendOnceWithClaim(ctx, key, func() error {
			return p.notifier.SendRequestEmail(ctx, EmailParams{
				To:             member.Email,
				ToName:         member.Name,
				RequesterName:  requester.Name,
				GameDate:       req.GameDate,
				GameTime:       req.GameTime,
				Position:       stringValue(req.Position),
				Message:        stringValue(req.Message),
				AcceptURL:      acceptURL,
				SpareRequestID: req.ID,
			})
		}); err != nil {
			firstErr = err
		}
	}

	if member.Phone != "" && member.SMSOptIn {
		key := DeliveryKey{
			SpareRequestID: req.ID,
			MemberID:       member.ID,
			Generation:     req.NotificationGeneration,
			Channel:        channelSMS,
			Kind:           kindSpareRequest,
		}
		if _, err := p.ledger.SendOnceWithClaim(ctx, key, func() error {
			return p.notifier.SendRequestSMS(ctx, SMSParams{
				To:            member.Phone,
				RequesterName: requester.Name,
				GameDate:      req.GameDate,
				GameTime:      req.GameTime,
			})
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// logInfraThrottled は一時的インフラ障害を30秒に1回までに抑制してログ出力する。
func (p *Processor) logInfraThrottled(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastInfraLogAt) < infraLogInterval {
		return
	}
	p.lastInfraLogAt = time.Now()
	log.Printf("[Processor] 一時的なインフラ障害（次のティックで再試行します）: %v", err)
}

// isTransientInfraError はエラーが一時的なインフラ障害かどうかを型で判別する。
// 文字列照合ではなくドライバの型付きエラーで分類する。
func isTransientInfraError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_PROTOCOL:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// stringValue はNULL許容文字列を空文字フォールバック付きで取り出す。
func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
