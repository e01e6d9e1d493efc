package spare

import (
	"context"
	"testing"
	"time"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
)

// TestClock はテスト可能な時刻源のテスト。
func TestClock(t *testing.T) {
	t.Parallel()

	override := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("オーバーライドが設定されていればNowAsyncはその値を返す", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, override)
		clock := NewClock(queries)

		got, err := clock.NowAsync(context.Background())
		if err != nil {
			t.Fatalf("NowAsyncエラー: %v", err)
		}
		if !got.Equal(override) {
			t.Errorf("NowAsync: got %v, want %v", got, override)
		}
	})

	t.Run("オーバーライドが無ければNowAsyncは実時刻を返す", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		clock := NewClock(queries)

		before := time.Now().UTC()
		got, err := clock.NowAsync(context.Background())
		if err != nil {
			t.Fatalf("NowAsyncエラー: %v", err)
		}
		after := time.Now().UTC()

		if got.Before(before) || got.After(after) {
			t.Errorf("NowAsyncが実時刻の範囲外: got %v, want [%v, %v]", got, before, after)
		}
	})

	t.Run("NowはNowAsyncでキャッシュされたオーバーライドを返す", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, override)
		clock := NewClock(queries)

		// キャッシュ未構築のNowは実時刻を返す（DBへは問い合わせない）
		if got := clock.Now(); got.Equal(override) {
			t.Errorf("キャッシュ構築前のNowがオーバーライドを返した: %v", got)
		}

		if _, err := clock.NowAsync(context.Background()); err != nil {
			t.Fatalf("NowAsyncエラー: %v", err)
		}

		// TTL内のNowはキャッシュされたオーバーライドを返す
		if got := clock.Now(); !got.Equal(override) {
			t.Errorf("Now: got %v, want %v", got, override)
		}
	})

	t.Run("Invalidate後のNowは実時刻に戻る", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, override)
		clock := NewClock(queries)

		if _, err := clock.NowAsync(context.Background()); err != nil {
			t.Fatalf("NowAsyncエラー: %v", err)
		}
		if got := clock.Now(); !got.Equal(override) {
			t.Fatalf("キャッシュ構築後のNow: got %v, want %v", got, override)
		}

		clock.Invalidate()
		if got := clock.Now(); got.Equal(override) {
			t.Errorf("Invalidate後のNowがオーバーライドを返した: %v", got)
		}
	})

	t.Run("オーバーライド解除がNowAsyncで反映される", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, override)
		clock := NewClock(queries)

		if got, err := clock.NowAsync(context.Background()); err != nil || !got.Equal(override) {
			t.Fatalf("オーバーライド設定中のNowAsync: got %v, err=%v", got, err)
		}

		// オーバーライドを解除する
		if err := queries.UpdateClubSettings(context.Background(), sparedb.UpdateClubSettingsParams{
			NotificationDelaySeconds: 60,
			TestCurrentTime:          nil,
		}); err != nil {
			t.Fatalf("クラブ設定更新に失敗: %v", err)
		}
		clock.Invalidate()

		got, err := clock.NowAsync(context.Background())
		if err != nil {
			t.Fatalf("NowAsyncエラー: %v", err)
		}
		if got.Equal(override) {
			t.Errorf("解除後のNowAsyncがオーバーライドを返した: %v", got)
		}
	})
}
