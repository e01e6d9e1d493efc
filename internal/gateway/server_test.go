package gateway

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	gatewaydb "github.com/nao1215/rinkhub/internal/gateway/db"
	"github.com/nao1215/rinkhub/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// newTestServer はテスト用のGatewayサーバーを生成する。
// 全サービスのプロキシ先を同一のバックエンドURLに向ける。
func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "gateway-test.db")
	sqlDB, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("テスト用DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router:    router,
		port:      "0",
		queries:   gatewaydb.New(sqlDB),
		db:        sqlDB,
		jwtSecret: testJWTSecret,
		serviceURLs: serviceURLConfig{
			Spare:  backendURL,
			Member: backendURL,
			League: backendURL,
		},
	}
	s.setupRoutes()

	return s
}

// doRequest は認証付きのHTTPリクエストを実行する。
func doRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.router.ServeHTTP(w, req)
	return w
}

// TestDevToken は開発用トークン発行のテスト。
func TestDevToken(t *testing.T) {
	t.Parallel()

	t.Run("トークンと会員IDが発行される", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		w := doRequest(t, s, http.MethodPost, "/auth/dev-token", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		var result map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if result["token"] == "" {
			t.Error("tokenフィールドが空")
		}
		if result["member_id"] == "" {
			t.Error("member_idフィールドが空")
		}

		// 発行されたトークンで/meにアクセスできる
		w = doRequest(t, s, http.MethodGet, "/api/v1/me", result["token"], "")
		if w.Code != http.StatusOK {
			t.Fatalf("/me: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		var me map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if me["member_id"] != result["member_id"] {
			t.Errorf("member_id: got %q, want %q", me["member_id"], result["member_id"])
		}
		if me["provider"] != "dev" {
			t.Errorf("provider: got %q, want %q", me["provider"], "dev")
		}
	})

	t.Run("2回目の発行は同じ会員IDを返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		first := doRequest(t, s, http.MethodPost, "/auth/dev-token", "", "")
		second := doRequest(t, s, http.MethodPost, "/auth/dev-token", "", "")
		if first.Code != http.StatusOK || second.Code != http.StatusOK {
			t.Fatalf("ステータスコード: first=%d, second=%d", first.Code, second.Code)
		}

		var a, b map[string]string
		if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if err := json.Unmarshal(second.Body.Bytes(), &b); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if a["member_id"] != b["member_id"] {
			t.Errorf("member_id: first=%q, second=%q", a["member_id"], b["member_id"])
		}
	})
}

// TestGetCurrentAccount は/meエンドポイントのテスト。
func TestGetCurrentAccount(t *testing.T) {
	t.Parallel()

	t.Run("認証なしは401を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		w := doRequest(t, s, http.MethodGet, "/api/v1/me", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("アカウント未登録の会員は404を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		token, err := middleware.GenerateJWT(testJWTSecret, "unknown-member", "unknown@example.com")
		if err != nil {
			t.Fatalf("テスト用JWT生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodGet, "/api/v1/me", token, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestProxy は内部サービスへのプロキシのテスト。
func TestProxy(t *testing.T) {
	t.Parallel()

	t.Run("パスとクエリと会員IDヘッダーを転送する", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotQuery, gotMemberID string
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotMemberID = r.Header.Get("X-Member-ID")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}))
		t.Cleanup(backend.Close)

		s := newTestServer(t, backend.URL)
		token, err := middleware.GenerateJWT(testJWTSecret, "member-1", "m1@example.com")
		if err != nil {
			t.Fatalf("テスト用JWT生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodGet, "/api/v1/spares/req-1/queue?limit=5", token, "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if gotPath != "/api/v1/spares/req-1/queue" {
			t.Errorf("転送先パス: got %q, want %q", gotPath, "/api/v1/spares/req-1/queue")
		}
		if gotQuery != "limit=5" {
			t.Errorf("転送クエリ: got %q, want %q", gotQuery, "limit=5")
		}
		if gotMemberID != "member-1" {
			t.Errorf("X-Member-ID: got %q, want %q", gotMemberID, "member-1")
		}
	})

	t.Run("リクエストボディとエラーステータスをそのまま中継する", func(t *testing.T) {
		t.Parallel()

		var gotBody string
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"募集は既に解決済みです"}`))
		}))
		t.Cleanup(backend.Close)

		s := newTestServer(t, backend.URL)
		token, err := middleware.GenerateJWT(testJWTSecret, "member-1", "m1@example.com")
		if err != nil {
			t.Fatalf("テスト用JWT生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodPost, "/api/v1/spares/req-1/fill", token, `{"member_id":"member-2"}`)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusConflict)
		}
		if gotBody != `{"member_id":"member-2"}` {
			t.Errorf("転送ボディ: got %q", gotBody)
		}
		if !strings.Contains(w.Body.String(), "解決済み") {
			t.Errorf("エラーレスポンスが中継されていない: %s", w.Body.String())
		}
	})

	t.Run("受諾エンドポイントは認証なしで中継される", func(t *testing.T) {
		t.Parallel()

		var gotPath string
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"message":"参加を受け付けました"}`))
		}))
		t.Cleanup(backend.Close)

		s := newTestServer(t, backend.URL)

		w := doRequest(t, s, http.MethodGet, "/api/v1/spares/accept?token=signed-token", "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if gotPath != "/api/v1/spares/accept" {
			t.Errorf("転送先パス: got %q, want %q", gotPath, "/api/v1/spares/accept")
		}
	})

	t.Run("認証なしのプロキシは401を返す", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("未認証リクエストがバックエンドへ転送された")
		}))
		t.Cleanup(backend.Close)

		s := newTestServer(t, backend.URL)

		w := doRequest(t, s, http.MethodGet, "/api/v1/members", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("バックエンドに到達できない場合は502を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://127.0.0.1:1")
		token, err := middleware.GenerateJWT(testJWTSecret, "member-1", "m1@example.com")
		if err != nil {
			t.Fatalf("テスト用JWT生成に失敗: %v", err)
		}

		w := doRequest(t, s, http.MethodGet, "/api/v1/members", token, "")
		if w.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
		}
	})
}

// TestOAuthEndpoints はOAuth2エンドポイントのテスト。
func TestOAuthEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("クライアントID未設定のログインは503を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		w := doRequest(t, s, http.MethodGet, "/auth/github", "", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("github: got %d, want %d", w.Code, http.StatusServiceUnavailable)
		}

		w = doRequest(t, s, http.MethodGet, "/auth/google", "", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("google: got %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("コールバックは501を返す", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, "http://localhost:0")

		w := doRequest(t, s, http.MethodGet, "/auth/github/callback", "", "")
		if w.Code != http.StatusNotImplemented {
			t.Errorf("github callback: got %d, want %d", w.Code, http.StatusNotImplemented)
		}

		w = doRequest(t, s, http.MethodGet, "/auth/google/callback", "", "")
		if w.Code != http.StatusNotImplemented {
			t.Errorf("google callback: got %d, want %d", w.Code, http.StatusNotImplemented)
		}
	})
}

// TestGatewayHealthCheck はヘルスチェックエンドポイントのテスト。
func TestGatewayHealthCheck(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://localhost:0")

	w := doRequest(t, s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	var result map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if result["service"] != "gateway" {
		t.Errorf("service: got %q, want %q", result["service"], "gateway")
	}
}
