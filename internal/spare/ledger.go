package spare

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
)

// defaultClaimTimeout は送信クレームの有効期間。
// クレームを保持したままクラッシュしたプロセスがいても、この時間が経てば
// 別のプロセスが再取得して配信を完了できる。
const defaultClaimTimeout = 10 * time.Minute

// DeliveryKey は配信台帳の冪等性キー。
// 世代（Generation）が変わるとキー空間も変わるため、再募集時には
// 前ラウンドで送信済みの会員にも新たに1回だけ送信できる。
type DeliveryKey struct {
	// SpareRequestID は対象募集のID。
	SpareRequestID string
	// MemberID は送信先会員のID。
	MemberID string
	// Generation は通知ラウンドの世代番号。
	Generation int64
	// Channel は配信チャネル（email / sms）。
	Channel string
	// Kind は通知の種別。
	Kind string
}

// DeliveryLedger は配信の冪等性を保証する台帳。
// キーをクレームしてから送信関数を実行し、成功すれば送信済みとして記録する。
// 同一キーへの送信は1クレーム期間につき高々1回、送信済み確定後は二度と行われない。
type DeliveryLedger struct {
	// queries は台帳テーブルへのDBクエリ。
	queries *sparedb.Queries
	// clock は時刻源。クレーム失効の判定に使用する。
	clock *Clock
	// claimTimeout はクレームの有効期間。
	claimTimeout time.Duration
}

// NewDeliveryLedger は新しい配信台帳を生成する。
func NewDeliveryLedger(queries *sparedb.Queries, clock *Clock) *DeliveryLedger {
	return &DeliveryLedger{
		queries:      queries,
		clock:        clock,
		claimTimeout: defaultClaimTimeout,
	}
}

// SendOnceWithClaim はキーをクレームできた場合のみsendFnを実行する。
// 戻り値は「この呼び出しが送信を実行したか」。送信済み・他者がクレーム中の
// 場合は(false, nil)を返す。sendFnが失敗した場合はクレームを解放して
// エラーを伝播する（次のティックで再試行される）。
//
// 台帳ストアが利用できない場合はフェイルオープンする: 重複排除を諦めて
// sendFnを直接実行する。縮退時は厳密な1回送信より通知の可用性を優先する。
// ただしロック競合などの一時的なエラーはストア障害ではないのでフェイルオープン
// しない。同一キーへの同時呼び出しはSQLITE_BUSYを誘発しうるため、ここで
// フェイルオープンすると全呼び出しが送信してしまう。エラーを返して次の
// ティックに委ねる。
func (l *DeliveryLedger) SendOnceWithClaim(ctx context.Context, key DeliveryKey, sendFn func() error) (bool, error) {
	now, err := l.clock.NowAsync(ctx)
	if err != nil {
		now = l.clock.Now()
	}

	keyParams := sparedb.DeliveryKeyParams{
		SpareRequestID: key.SpareRequestID,
		MemberID:       key.MemberID,
		Generation:     key.Generation,
		Channel:        key.Channel,
		Kind:           key.Kind,
	}

	if err := l.queries.InsertDeliveryIfAbsent(ctx, uuid.New().String(), keyParams, now); err != nil {
		if isTransientInfraError(err) {
			return false, fmt.Errorf("台帳への挿入に失敗: %w", err)
		}
		log.Printf("[Ledger] 台帳ストアが利用できないためフェイルオープンします: %v", err)
		if sendErr := sendFn(); sendErr != nil {
			return false, sendErr
		}
		return true, nil
	}

	rows, err := l.queries.ClaimDelivery(ctx, keyParams, now, now.Add(-l.claimTimeout))
	if err != nil {
		return false, fmt.Errorf("送信クレームの取得に失敗: %w", err)
	}
	if rows == 0 {
		// 送信済み、または他のプロセスがクレームを保持している
		return false, nil
	}

	if err := sendFn(); err != nil {
		if releaseErr := l.queries.ReleaseDeliveryClaim(ctx, keyParams); releaseErr != nil {
			log.Printf("[Ledger] クレーム解放に失敗（タイムアウトで失効します）: %v", releaseErr)
		}
		return false, err
	}

	sentAt, err := l.clock.NowAsync(ctx)
	if err != nil {
		sentAt = l.clock.Now()
	}
	if err := l.queries.MarkDeliverySent(ctx, keyParams, sentAt); err != nil {
		// 送信自体は完了している。記録失敗はクレームタイムアウト後の
		// 再送信（at-least-once）として許容する。
		log.Printf("[Ledger] 送信済み記録に失敗: %v", err)
	}
	return true, nil
}
