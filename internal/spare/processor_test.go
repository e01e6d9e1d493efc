package spare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
	"github.com/nao1215/rinkhub/pkg/httpclient"
)

// fakeNotifier は送信内容を記録するテスト用のNotifier実装。
type fakeNotifier struct {
	mu     sync.Mutex
	emails []EmailParams
	sms    []SMSParams
	// emailErr を設定すると、メール送信がこのエラーで失敗する。
	emailErr error
}

func (n *fakeNotifier) SendRequestEmail(_ context.Context, p EmailParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.emailErr != nil {
		return n.emailErr
	}
	n.emails = append(n.emails, p)
	return nil
}

func (n *fakeNotifier) SendRequestSMS(_ context.Context, p SMSParams) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, p)
	return nil
}

func (n *fakeNotifier) emailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emails)
}

func (n *fakeNotifier) smsCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sms)
}

// testMember はテスト用会員サービスが返す会員情報。
type testMember struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	SMSOptIn bool   `json:"sms_opt_in"`
}

// newTestMemberBackend はテスト用の会員サービスを起動する。
// membersに含まれないIDへの問い合わせには404を返す。
func newTestMemberBackend(t *testing.T, members map[string]testMember) *httptest.Server {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/internal/members/")
		m, ok := members[id]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"会員が見つかりません"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(m)
	}))
	t.Cleanup(backend.Close)
	return backend
}

// newTestProcessor はテスト用の通知プロセッサを組み立てる。
func newTestProcessor(t *testing.T, queries *sparedb.Queries, notifier Notifier, memberBackendURL string) *Processor {
	t.Helper()

	clock := NewClock(queries)
	ledger := NewDeliveryLedger(queries, clock)
	return NewProcessor(queries, clock, ledger, notifier, httpclient.New(memberBackendURL), testJWTSecret, "http://localhost:8081")
}

// defaultTestMembers はテストで使う会員セット。
// Aはメール+SMS両対応、BとCはメールのみ、Rは募集者。
func defaultTestMembers() map[string]testMember {
	return map[string]testMember{
		"member-a": {ID: "member-a", Name: "会員A", Email: "a@example.com", Phone: "+15550000001", SMSOptIn: true},
		"member-b": {ID: "member-b", Name: "会員B", Email: "b@example.com"},
		"member-c": {ID: "member-c", Name: "会員C", Email: "c@example.com"},
		"member-r": {ID: "member-r", Name: "募集者R", Email: "r@example.com"},
	}
}

// TestProcessorStaggeredNotification は段階的通知のスケジューリングのテスト。
// 通知間隔60秒の設定で、候補A→B→Cの順に1人ずつ通知が進むことを検証する。
func TestProcessorStaggeredNotification(t *testing.T) {
	t.Parallel()

	baseTime := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("期限到来ごとに1人ずつ通知する", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-a", "member-b", "member-c"}, baseTime)

		// t=0: 先頭のAに通知する（メール+SMS）
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=0のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Fatalf("t=0のメール送信数: got %d, want 1", got)
		}
		if got := notifier.smsCount(); got != 1 {
			t.Errorf("t=0のSMS送信数: got %d, want 1", got)
		}
		if notifier.emails[0].To != "a@example.com" {
			t.Errorf("t=0の送信先: got %q, want %q", notifier.emails[0].To, "a@example.com")
		}
		if notifier.emails[0].AcceptURL == "" {
			t.Error("受諾リンクが空")
		}

		// t=30: まだ期限が来ていないので何もしない
		setTestTime(t, queries, baseTime.Add(30*time.Second))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=30のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("t=30のメール送信数: got %d, want 1", got)
		}

		// t=61: 次のBに通知する
		setTestTime(t, queries, baseTime.Add(61*time.Second))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=61のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 2 {
			t.Fatalf("t=61のメール送信数: got %d, want 2", got)
		}
		if notifier.emails[1].To != "b@example.com" {
			t.Errorf("t=61の送信先: got %q, want %q", notifier.emails[1].To, "b@example.com")
		}

		// 通知済みフラグは先頭2人にだけ付く
		items, err := queries.ListQueueItems(context.Background(), "req-1")
		if err != nil {
			t.Fatalf("キュー取得に失敗: %v", err)
		}
		for _, item := range items {
			notified := item.NotifiedAt != nil
			wantNotified := item.MemberID != "member-c"
			if notified != wantNotified {
				t.Errorf("member=%s notified=%v, want %v", item.MemberID, notified, wantNotified)
			}
		}
	})

	t.Run("ティック間に募集が成立すると通知が止まる", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-a", "member-b", "member-c"}, baseTime)

		// t=0: Aに通知
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=0のティックに失敗: %v", err)
		}

		// t=70: 外部から募集が成立する（受諾リンク経由を再現）
		fillTime := baseTime.Add(70 * time.Second)
		rows, err := queries.FillSpareRequest(context.Background(), sparedb.FillSpareRequestParams{
			ID: "req-1", FilledByID: "member-a", Now: fillTime,
		})
		if err != nil || rows != 1 {
			t.Fatalf("募集成立: rows=%d, err=%v", rows, err)
		}

		// t=90: 成立済みなのでBには通知せず、ラウンドをstoppedにする
		setTestTime(t, queries, baseTime.Add(90*time.Second))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=90のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("成立後のメール送信数: got %d, want 1", got)
		}

		req, err := queries.GetSpareRequest(context.Background(), "req-1")
		if err != nil {
			t.Fatalf("募集取得に失敗: %v", err)
		}
		if req.NotificationStatus == nil || *req.NotificationStatus != "stopped" {
			t.Errorf("notification_status: got %v, want stopped", req.NotificationStatus)
		}
		if req.NextNotificationAt != nil {
			t.Errorf("next_notification_at: got %v, want nil", req.NextNotificationAt)
		}
	})

	t.Run("キューが尽きるとラウンドがcompletedになる", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-b"}, baseTime)

		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=0のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Fatalf("メール送信数: got %d, want 1", got)
		}

		setTestTime(t, queries, baseTime.Add(61*time.Second))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("t=61のティックに失敗: %v", err)
		}

		req, err := queries.GetSpareRequest(context.Background(), "req-1")
		if err != nil {
			t.Fatalf("募集取得に失敗: %v", err)
		}
		if req.NotificationStatus == nil || *req.NotificationStatus != "completed" {
			t.Errorf("notification_status: got %v, want completed", req.NotificationStatus)
		}

		// 以降のティックは何もしない
		setTestTime(t, queries, baseTime.Add(5*time.Minute))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("completed後のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("completed後のメール送信数: got %d, want 1", got)
		}
	})
}

// TestProcessorEdgeCases は通知プロセッサの異常系のテスト。
func TestProcessorEdgeCases(t *testing.T) {
	t.Parallel()

	baseTime := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("一時停止中の募集には通知しない", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-a"}, baseTime)

		if _, err := queries.SetNotificationPaused(context.Background(), "req-1", true, baseTime); err != nil {
			t.Fatalf("一時停止に失敗: %v", err)
		}
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("ティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 0 {
			t.Errorf("一時停止中のメール送信数: got %d, want 0", got)
		}

		// 再開すると通知が進む
		if _, err := queries.SetNotificationPaused(context.Background(), "req-1", false, baseTime); err != nil {
			t.Fatalf("再開に失敗: %v", err)
		}
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("再開後のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("再開後のメール送信数: got %d, want 1", got)
		}
	})

	t.Run("他プロセスがクレーム保持中の項目はスキップする", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-a"}, baseTime)

		// 別プロセスのクレームを再現する
		rows, err := queries.ClaimQueueItem(context.Background(), sparedb.ClaimQueueItemParams{
			ID:                 "req-1-qmember-a",
			Now:                baseTime,
			ClaimExpiredBefore: baseTime.Add(-defaultClaimTimeout),
		})
		if err != nil || rows != 1 {
			t.Fatalf("クレーム取得: rows=%d, err=%v", rows, err)
		}

		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("ティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 0 {
			t.Errorf("クレーム保持中のメール送信数: got %d, want 0", got)
		}

		// クレームタイムアウト後は引き継いで通知する
		setTestTime(t, queries, baseTime.Add(defaultClaimTimeout+time.Minute))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("引き継ぎティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("引き継ぎ後のメール送信数: got %d, want 1", got)
		}
	})

	t.Run("会員情報が存在しない場合はクレームを解放して続行する", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		// member-a を登録しない
		backend := newTestMemberBackend(t, map[string]testMember{
			"member-r": {ID: "member-r", Name: "募集者R", Email: "r@example.com"},
		})
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-a"}, baseTime)

		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("ティックがエラーを返した: %v", err)
		}
		if got := notifier.emailCount(); got != 0 {
			t.Errorf("メール送信数: got %d, want 0", got)
		}

		// クレームは解放され、通知済みにもならない
		items, err := queries.ListQueueItems(context.Background(), "req-1")
		if err != nil || len(items) != 1 {
			t.Fatalf("キュー取得: len=%d, err=%v", len(items), err)
		}
		if items[0].ClaimedAt != nil {
			t.Errorf("claimed_at: got %v, want nil", items[0].ClaimedAt)
		}
		if items[0].NotifiedAt != nil {
			t.Errorf("notified_at: got %v, want nil", items[0].NotifiedAt)
		}
	})

	t.Run("送信失敗時はクレームを解放して次のティックで再試行する", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{emailErr: context.DeadlineExceeded}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-b"}, baseTime)

		if err := p.Tick(context.Background()); err == nil {
			t.Fatal("送信失敗なのにティックが成功した")
		}
		if got := notifier.emailCount(); got != 0 {
			t.Errorf("失敗時のメール送信数: got %d, want 0", got)
		}

		// プロバイダ復旧後の再試行で送信される
		notifier.mu.Lock()
		notifier.emailErr = nil
		notifier.mu.Unlock()

		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("再試行ティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Errorf("再試行後のメール送信数: got %d, want 1", got)
		}
	})

	t.Run("再募集で世代が進むと同じ候補に再通知できる", func(t *testing.T) {
		t.Parallel()

		queries := newTestQueries(t)
		setTestTime(t, queries, baseTime)
		notifier := &fakeNotifier{}
		backend := newTestMemberBackend(t, defaultTestMembers())
		p := newTestProcessor(t, queries, notifier, backend.URL)

		seedSpareRequest(t, queries, "req-1", "member-r", baseTime)
		seedQueue(t, queries, "req-1", []string{"member-b"}, baseTime)

		// 世代0のラウンドを完了させる
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("世代0のティックに失敗: %v", err)
		}
		setTestTime(t, queries, baseTime.Add(61*time.Second))
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("完了ティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 1 {
			t.Fatalf("世代0のメール送信数: got %d, want 1", got)
		}

		// 再募集: 世代を進めてキューを作り直す
		reopenTime := baseTime.Add(2 * time.Minute)
		rows, err := queries.ReopenNotificationRound(context.Background(), "req-1", reopenTime)
		if err != nil || rows != 1 {
			t.Fatalf("再募集: rows=%d, err=%v", rows, err)
		}
		if err := queries.DeleteQueueItems(context.Background(), "req-1"); err != nil {
			t.Fatalf("キュー削除に失敗: %v", err)
		}
		setTestTime(t, queries, reopenTime)
		seedQueue(t, queries, "req-1", []string{"member-b"}, reopenTime)

		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("世代1のティックに失敗: %v", err)
		}
		if got := notifier.emailCount(); got != 2 {
			t.Errorf("世代1のメール送信数: got %d, want 2", got)
		}
	})
}
