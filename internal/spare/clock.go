package spare

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
)

// clockCacheTTL はクロックオーバーライドのキャッシュ有効期間。
const clockCacheTTL = time.Second

// Clock はテスト可能な時刻源。
// club_settings.test_current_timeにオーバーライドが設定されている場合はその値を、
// なければ実時刻を返す。プロセッサと配信台帳の時刻計算はすべてここを経由するため、
// テストでは実スリープなしに経過時間をシミュレートできる。
type Clock struct {
	// queries はクラブ設定読み取り用のDBクエリ。
	queries *sparedb.Queries
	// group は同時リフレッシュを1回のDB読み取りにまとめる。
	group singleflight.Group

	// mu は以下のキャッシュフィールドを保護する。
	mu sync.Mutex
	// override はキャッシュされたオーバーライド値。未設定ならnil。
	override *time.Time
	// refreshedAt はキャッシュを最後に更新した実時刻。
	refreshedAt time.Time
}

// NewClock は新しいクロックを生成する。
func NewClock(queries *sparedb.Queries) *Clock {
	return &Clock{queries: queries}
}

// Now はベストエフォートで現在時刻を返す。
// キャッシュ（TTL 1秒以内）にオーバーライドがあればそれを、なければ実時刻を返す。
// DBへの問い合わせは行わない。
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.override != nil && time.Since(c.refreshedAt) <= clockCacheTTL {
		return *c.override
	}
	return time.Now().UTC()
}

// NowAsync は設定を読み直して正確な現在時刻を返す。
// 同時に呼ばれた場合は1回のDB読み取りを共有する（singleflight）。
func (c *Clock) NowAsync(ctx context.Context) (time.Time, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		settings, err := c.queries.GetClubSettings(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.override = settings.TestCurrentTime
		c.refreshedAt = time.Now()
		c.mu.Unlock()

		return settings.TestCurrentTime, nil
	})
	if err != nil {
		return time.Time{}, err
	}

	if override, ok := v.(*time.Time); ok && override != nil {
		return *override, nil
	}
	return time.Now().UTC(), nil
}

// Invalidate はキャッシュを破棄する。設定変更後に呼ぶ。
func (c *Clock) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = nil
	c.refreshedAt = time.Time{}
}
