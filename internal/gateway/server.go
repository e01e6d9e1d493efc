package gateway

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	gatewaydb "github.com/nao1215/rinkhub/internal/gateway/db"
	"github.com/nao1215/rinkhub/pkg/middleware"
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *gatewaydb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// serviceURLs は内部サービスのURL。
	serviceURLs serviceURLConfig
}

// serviceURLConfig は内部サービスのURL設定。
type serviceURLConfig struct {
	Spare  string
	Member string
	League string
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/gateway.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")

	urls := serviceURLConfig{
		Spare:  getEnvOr("SPARE_URL", "http://localhost:8081"),
		Member: getEnvOr("MEMBER_URL", "http://localhost:8082"),
		League: getEnvOr("LEAGUE_URL", "http://localhost:8083"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:      router,
		port:        port,
		queries:     gatewaydb.New(sqlDB),
		db:          sqlDB,
		jwtSecret:   jwtSecret,
		serviceURLs: urls,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// OAuth2認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.GET("/github", s.handleGitHubLogin())
		auth.GET("/github/callback", s.handleGitHubCallback())
		auth.GET("/google", s.handleGoogleLogin())
		auth.GET("/google/callback", s.handleGoogleCallback())
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	// 受諾・辞退（認証不要 - メール内リンクから直接アクセスされる）
	s.router.GET("/api/v1/spares/accept", s.handleProxy(s.serviceURLs.Spare, "/api/v1/spares/accept"))
	s.router.POST("/api/v1/spares/accept", s.handleProxy(s.serviceURLs.Spare, "/api/v1/spares/accept"))
	s.router.POST("/api/v1/spares/decline", s.handleProxy(s.serviceURLs.Spare, "/api/v1/spares/decline"))

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// ログイン中アカウントの情報
		api.GET("/me", s.handleGetCurrentAccount())

		// 会員（プロキシ）
		api.POST("/members", s.handleProxy(s.serviceURLs.Member, "/api/v1/members"))
		api.GET("/members", s.handleProxy(s.serviceURLs.Member, "/api/v1/members"))
		api.GET("/members/:id", s.handleProxyWithParam(s.serviceURLs.Member, "/api/v1/members/", "id"))
		api.PUT("/members/:id", s.handleProxyWithParam(s.serviceURLs.Member, "/api/v1/members/", "id"))
		api.DELETE("/members/:id", s.handleProxyWithParam(s.serviceURLs.Member, "/api/v1/members/", "id"))

		// リーグ（プロキシ）
		api.POST("/leagues", s.handleProxy(s.serviceURLs.League, "/api/v1/leagues"))
		api.GET("/leagues", s.handleProxy(s.serviceURLs.League, "/api/v1/leagues"))
		api.GET("/leagues/:id", s.handleProxyWithParam(s.serviceURLs.League, "/api/v1/leagues/", "id"))
		api.PUT("/leagues/:id", s.handleProxyWithParam(s.serviceURLs.League, "/api/v1/leagues/", "id"))
		api.DELETE("/leagues/:id", s.handleProxyWithParam(s.serviceURLs.League, "/api/v1/leagues/", "id"))
		api.POST("/leagues/:id/games", s.handleProxyWithParam(s.serviceURLs.League, "/api/v1/leagues/", "id", "/games"))
		api.GET("/leagues/:id/games", s.handleProxyWithParam(s.serviceURLs.League, "/api/v1/leagues/", "id", "/games"))

		// スペア募集（プロキシ）
		api.POST("/spares", s.handleProxy(s.serviceURLs.Spare, "/api/v1/spares"))
		api.GET("/spares", s.handleProxy(s.serviceURLs.Spare, "/api/v1/spares"))
		api.GET("/spares/:id", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id"))
		api.GET("/spares/:id/queue", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/queue"))
		api.POST("/spares/:id/fill", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/fill"))
		api.POST("/spares/:id/cancel", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/cancel"))
		api.POST("/spares/:id/notify", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/notify"))
		api.POST("/spares/:id/pause", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/pause"))
		api.POST("/spares/:id/resume", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/resume"))
		api.POST("/spares/:id/reopen", s.handleProxyWithParam(s.serviceURLs.Spare, "/api/v1/spares/", "id", "/reopen"))

		// クラブ設定（プロキシ）
		api.GET("/settings", s.handleProxy(s.serviceURLs.Spare, "/api/v1/settings"))
		api.PUT("/settings", s.handleProxy(s.serviceURLs.Spare, "/api/v1/settings"))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := uuid.New().String()

		// 開発用アカウントが存在しなければ作成
		account, err := s.queries.GetAccountByProvider(c.Request.Context(), gatewaydb.GetAccountByProviderParams{
			Provider:       "dev",
			ProviderUserID: "dev-user",
		})
		if errors.Is(err, sql.ErrNoRows) {
			if err := s.queries.CreateAccount(c.Request.Context(), gatewaydb.CreateAccountParams{
				ID:             uuid.New().String(),
				MemberID:       memberID,
				Provider:       "dev",
				ProviderUserID: "dev-user",
				Email:          "dev@localhost",
				DisplayName:    "開発ユーザー",
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウント作成に失敗しました"})
				log.Printf("開発アカウント作成エラー: %v", err)
				return
			}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウント取得に失敗しました"})
			return
		} else {
			// 既存の開発アカウントを使用
			memberID = account.MemberID
			_ = s.queries.UpdateLastLogin(c.Request.Context(), account.ID)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, memberID, "dev@localhost")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"member_id": memberID,
		})
	}
}

// handleGitHubLogin はGitHub OAuth2ログインを開始するハンドラを返す。
func (s *Server) handleGitHubLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := os.Getenv("GITHUB_CLIENT_ID")
		if clientID == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "GitHub OAuth2が設定されていません"})
			return
		}
		state := uuid.New().String()
		redirectURL := fmt.Sprintf("https://github.com/login/oauth/authorize?client_id=%s&state=%s&scope=user:email", clientID, state)
		c.Redirect(http.StatusTemporaryRedirect, redirectURL)
	}
}

// handleGitHubCallback はGitHub OAuth2コールバックを処理するハンドラを返す。
func (s *Server) handleGitHubCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		// TODO: GitHub OAuth2のアクセストークン交換とアカウント紐付けを実装
		c.JSON(http.StatusNotImplemented, gin.H{"error": "GitHub OAuth2コールバックは未実装です。開発用トークン（POST /auth/dev-token）を使用してください。"})
	}
}

// handleGoogleLogin はGoogle OAuth2ログインを開始するハンドラを返す。
func (s *Server) handleGoogleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := os.Getenv("GOOGLE_CLIENT_ID")
		if clientID == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google OAuth2が設定されていません"})
			return
		}
		state := uuid.New().String()
		redirectURL := fmt.Sprintf("https://accounts.google.com/o/oauth2/v2/auth?client_id=%s&response_type=code&scope=openid%%20email%%20profile&state=%s&redirect_uri=%s/auth/google/callback",
			clientID, state, getEnvOr("FRONTEND_URL", "http://localhost:8080"))
		c.Redirect(http.StatusTemporaryRedirect, redirectURL)
	}
}

// handleGoogleCallback はGoogle OAuth2コールバックを処理するハンドラを返す。
func (s *Server) handleGoogleCallback() gin.HandlerFunc {
	return func(c *gin.Context) {
		// TODO: Google OAuth2のアクセストークン交換とアカウント紐付けを実装
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Google OAuth2コールバックは未実装です。開発用トークン（POST /auth/dev-token）を使用してください。"})
	}
}

// handleGetCurrentAccount はログイン中アカウントの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := middleware.GetMemberID(c)
		if memberID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "会員IDが取得できません"})
			return
		}

		account, err := s.queries.GetAccountByMemberID(c.Request.Context(), memberID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "アカウントが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"member_id":    account.MemberID,
			"email":        account.Email,
			"display_name": account.DisplayName,
			"provider":     account.Provider,
		})
	}
}

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
func (s *Server) handleProxy(baseURL, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// handleProxyWithParam はURLパラメータを含むプロキシハンドラを返す。
func (s *Server) handleProxyWithParam(baseURL, pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			proxyURL += suffix
		}
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンと会員IDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, method, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	// 元のリクエストヘッダーを転送
	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-Member-ID", middleware.GetMemberID(c))

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		log.Printf("プロキシエラー: url=%s, error=%v", url, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
