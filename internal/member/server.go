package member

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	memberdb "github.com/nao1215/rinkhub/internal/member/db"
	"github.com/nao1215/rinkhub/pkg/middleware"
)

// Server は会員サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *memberdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しい会員サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/member.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		port:    port,
		queries: memberdb.New(sqlDB),
		db:      sqlDB,
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
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/v1")

	// サービス間通信用の内部API（認証不要 - 通知プロセッサから参照される）。
	// ネットワーク境界で外部公開しないこと。
	api.GET("/internal/members/:id", s.handleInternalGet())

	authed := api.Group("/members")
	authed.Use(middleware.JWTAuth(jwtSecret))
	{
		// 会員登録
		authed.POST("", s.handleCreate())
		// 会員一覧取得
		authed.GET("", s.handleList())
		// 会員詳細取得
		authed.GET("/:id", s.handleGet())
		// 会員情報更新
		authed.PUT("/:id", s.handleUpdate())
		// 会員削除
		authed.DELETE("/:id", s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "member"})
	})
}

// memberRequest は会員登録・更新リクエストのJSON構造。
type memberRequest struct {
	// Name は会員の氏名。
	Name string `json:"name" binding:"required"`
	// Email は会員のメールアドレス。
	Email string `json:"email"`
	// Phone は会員の電話番号。
	Phone string `json:"phone"`
	// SMSOptIn はSMS通知の受信同意フラグ。
	SMSOptIn bool `json:"sms_opt_in"`
	// SkillLevel は会員の技量区分。
	SkillLevel string `json:"skill_level"`
	// PreferredPosition は希望ポジション。
	PreferredPosition string `json:"preferred_position"`
}

// memberResponse は会員のJSONレスポンス構造。
type memberResponse struct {
	// ID は会員の一意識別子。
	ID string `json:"id"`
	// Name は会員の氏名。
	Name string `json:"name"`
	// Email は会員のメールアドレス。
	Email string `json:"email"`
	// Phone は会員の電話番号。
	Phone string `json:"phone"`
	// SMSOptIn はSMS通知の受信同意フラグ。
	SMSOptIn bool `json:"sms_opt_in"`
	// SkillLevel は会員の技量区分。
	SkillLevel string `json:"skill_level"`
	// PreferredPosition は希望ポジション。
	PreferredPosition string `json:"preferred_position"`
	// CreatedAt は会員登録時刻（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は最終更新時刻（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// toMemberResponse はDB行をJSONレスポンスに変換する。
func toMemberResponse(m memberdb.Member) memberResponse {
	return memberResponse{
		ID:                m.ID,
		Name:              m.Name,
		Email:             m.Email,
		Phone:             m.Phone,
		SMSOptIn:          m.SMSOptIn,
		SkillLevel:        m.SkillLevel,
		PreferredPosition: m.PreferredPosition,
		CreatedAt:         m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         m.UpdatedAt.Format(time.RFC3339),
	}
}

// skillLevelOr は技量区分を検証し、未指定ならデフォルト値を返す。
func skillLevelOr(level string) (string, error) {
	switch level {
	case "":
		return "intermediate", nil
	case "beginner", "intermediate", "advanced":
		return level, nil
	default:
		return "", fmt.Errorf("技量区分が不正です: %q", level)
	}
}

// handleCreate は会員登録を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		skillLevel, err := skillLevelOr(req.SkillLevel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := uuid.New().String()
		if err := s.queries.CreateMember(c.Request.Context(), memberdb.CreateMemberParams{
			ID:                id,
			Name:              req.Name,
			Email:             req.Email,
			Phone:             req.Phone,
			SMSOptIn:          req.SMSOptIn,
			SkillLevel:        skillLevel,
			PreferredPosition: req.PreferredPosition,
			Now:               time.Now().UTC(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員の登録に失敗しました"})
			log.Printf("会員登録エラー: %v", err)
			return
		}

		created, err := s.queries.GetMember(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登録した会員の取得に失敗しました"})
			log.Printf("会員取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toMemberResponse(created))
	}
}

// handleList は会員一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := s.queries.ListMembers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員一覧の取得に失敗しました"})
			log.Printf("会員一覧取得エラー: %v", err)
			return
		}

		responses := make([]memberResponse, 0, len(members))
		for _, m := range members {
			responses = append(responses, toMemberResponse(m))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGet は会員詳細取得を処理するハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.queries.GetMember(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会員が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員の取得に失敗しました"})
			log.Printf("会員取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toMemberResponse(m))
	}
}

// handleUpdate は会員情報更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		skillLevel, err := skillLevelOr(req.SkillLevel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := c.Param("id")
		rows, err := s.queries.UpdateMember(c.Request.Context(), memberdb.UpdateMemberParams{
			ID:                id,
			Name:              req.Name,
			Email:             req.Email,
			Phone:             req.Phone,
			SMSOptIn:          req.SMSOptIn,
			SkillLevel:        skillLevel,
			PreferredPosition: req.PreferredPosition,
			Now:               time.Now().UTC(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員情報の更新に失敗しました"})
			log.Printf("会員更新エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "会員が見つかりません"})
			return
		}

		updated, err := s.queries.GetMember(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後の会員の取得に失敗しました"})
			log.Printf("会員取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toMemberResponse(updated))
	}
}

// handleDelete は会員削除を処理するハンドラを返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.DeleteMember(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員の削除に失敗しました"})
			log.Printf("会員削除エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "会員が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "会員を削除しました"})
	}
}

// internalMemberResponse はサービス間通信用の会員情報レスポンス。
// 通知プロセッサが配信先の解決に使う最小限のフィールドのみを返す。
type internalMemberResponse struct {
	// ID は会員の一意識別子。
	ID string `json:"id"`
	// Name は会員の氏名。
	Name string `json:"name"`
	// Email は会員のメールアドレス。
	Email string `json:"email"`
	// Phone は会員の電話番号。
	Phone string `json:"phone"`
	// SMSOptIn はSMS通知の受信同意フラグ。
	SMSOptIn bool `json:"sms_opt_in"`
}

// handleInternalGet はサービス間通信用の会員情報取得を処理するハンドラを返す。
func (s *Server) handleInternalGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.queries.GetMember(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "会員が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "会員の取得に失敗しました"})
			log.Printf("会員取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, internalMemberResponse{
			ID:       m.ID,
			Name:     m.Name,
			Email:    m.Email,
			Phone:    m.Phone,
			SMSOptIn: m.SMSOptIn,
		})
	}
}
