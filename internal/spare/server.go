package spare

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

	sparedb "github.com/nao1215/rinkhub/internal/spare/db"
	"github.com/nao1215/rinkhub/pkg/httpclient"
	"github.com/nao1215/rinkhub/pkg/middleware"
)

// Server はスペア募集サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *sparedb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// clock はテスト可能な時刻源。
	clock *Clock
	// processor は通知プロセッサ。mainからバックグラウンド起動される。
	processor *Processor
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
}

// NewServer は新しいスペア募集サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行い、通知プロセッサを組み立てる。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/spare.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := getEnvOr("JWT_SECRET", "dev-secret-key")
	memberURL := getEnvOr("MEMBER_URL", "http://localhost:8082")
	publicURL := getEnvOr("SPARE_PUBLIC_URL", "http://localhost:8081")

	notifier := NewProviderNotifier(ProviderConfig{
		SMTPHost:    os.Getenv("SMTP_HOST"),
		SMTPPort:    getEnvOr("SMTP_PORT", "465"),
		SMTPUser:    os.Getenv("SMTP_USER"),
		SMTPPass:    os.Getenv("SMTP_PASS"),
		SMSAPIURL:   os.Getenv("SMS_API_URL"),
		SMSUser:     os.Getenv("SMS_USER"),
		SMSPass:     os.Getenv("SMS_PASS"),
		SMSSenderID: os.Getenv("SMS_SENDER_ID"),
	})

	queries := sparedb.New(sqlDB)
	clock := NewClock(queries)
	ledger := NewDeliveryLedger(queries, clock)
	memberClient := httpclient.New(memberURL)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		queries:   queries,
		db:        sqlDB,
		clock:     clock,
		processor: NewProcessor(queries, clock, ledger, notifier, memberClient, jwtSecret, publicURL),
		jwtSecret: jwtSecret,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Processor は通知プロセッサを返す。mainがバックグラウンドで起動する。
func (s *Server) Processor() *Processor {
	return s.processor
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// 受諾・辞退エンドポイント（認証不要 - メール内リンクから直接アクセスされるため、
	// 署名付きトークンで本人確認する）
	api.GET("/spares/accept", s.handleAccept())
	api.POST("/spares/accept", s.handleAccept())
	api.POST("/spares/decline", s.handleDecline())

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(s.jwtSecret))
	{
		spares := authed.Group("/spares")
		{
			// スペア募集の作成・参照
			spares.POST("", s.handleCreate())
			spares.GET("", s.handleList())
			spares.GET("/:id", s.handleGet())
			spares.GET("/:id/queue", s.handleGetQueue())
			// 募集の解決
			spares.POST("/:id/fill", s.handleFill())
			spares.POST("/:id/cancel", s.handleCancel())
			// 通知パイプラインの操作
			spares.POST("/:id/notify", s.handleNotify())
			spares.POST("/:id/pause", s.handlePause())
			spares.POST("/:id/resume", s.handleResume())
			spares.POST("/:id/reopen", s.handleReopen())
		}

		// クラブ設定（通知間隔・テスト用時刻オーバーライド）
		settings := authed.Group("/settings")
		{
			settings.GET("", s.handleGetSettings())
			settings.PUT("", s.handleUpdateSettings())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "spare"})
	})
}

// spareResponse はスペア募集のJSONレスポンス構造。
type spareResponse struct {
	// ID は募集の一意識別子。
	ID string `json:"id"`
	// RequesterID は募集を出した会員のID。
	RequesterID string `json:"requester_id"`
	// LeagueID は対象リーグのID。
	LeagueID *string `json:"league_id"`
	// GameDate は対象試合の日付。
	GameDate string `json:"game_date"`
	// GameTime は対象試合の開始時刻。
	GameTime string `json:"game_time"`
	// Position は募集するポジション。
	Position *string `json:"position"`
	// Message は募集メッセージ。
	Message *string `json:"message"`
	// Status は募集の状態。
	Status string `json:"status"`
	// NotificationStatus は通知パイプラインの状態。
	NotificationStatus *string `json:"notification_status"`
	// NotificationPaused は通知の一時停止フラグ。
	NotificationPaused bool `json:"notification_paused"`
	// NextNotificationAt は次の通知予定時刻（RFC3339形式）。
	NextNotificationAt *string `json:"next_notification_at"`
	// NotificationGeneration は通知ラウンドの世代番号。
	NotificationGeneration int64 `json:"notification_generation"`
	// FilledByID は募集を埋めた会員のID。
	FilledByID *string `json:"filled_by_id"`
	// FilledAt は募集が埋まった時刻（RFC3339形式）。
	FilledAt *string `json:"filled_at"`
	// CreatedAt は募集の作成時刻（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toSpareResponse はDB行をJSONレスポンスに変換する。
func toSpareResponse(r sparedb.SpareRequest) spareResponse {
	return spareResponse{
		ID:                     r.ID,
		RequesterID:            r.RequesterID,
		LeagueID:               r.LeagueID,
		GameDate:               r.GameDate,
		GameTime:               r.GameTime,
		Position:               r.Position,
		Message:                r.Message,
		Status:                 r.Status,
		NotificationStatus:     r.NotificationStatus,
		NotificationPaused:     r.NotificationPaused,
		NextNotificationAt:     formatTimePtr(r.NextNotificationAt),
		NotificationGeneration: r.NotificationGeneration,
		FilledByID:             r.FilledByID,
		FilledAt:               formatTimePtr(r.FilledAt),
		CreatedAt:              r.CreatedAt.Format(time.RFC3339),
	}
}

// formatTimePtr はNULL許容時刻をRFC3339文字列に変換する。
func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// createRequest はスペア募集作成リクエストのJSON構造。
type createRequest struct {
	// LeagueID は対象リーグのID（任意）。
	LeagueID *string `json:"league_id"`
	// GameDate は対象試合の日付（YYYY-MM-DD）。
	GameDate string `json:"game_date" binding:"required"`
	// GameTime は対象試合の開始時刻（HH:MM）。
	GameTime string `json:"game_time" binding:"required"`
	// Position は募集するポジション（任意）。
	Position *string `json:"position"`
	// Message は募集に添えるメッセージ（任意）。
	Message *string `json:"message"`
}

// handleCreate はスペア募集を作成するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := middleware.GetMemberID(c)
		if memberID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "会員IDが取得できません"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id := uuid.New().String()
		if err := s.queries.CreateSpareRequest(c.Request.Context(), sparedb.CreateSpareRequestParams{
			ID:          id,
			RequesterID: memberID,
			LeagueID:    req.LeagueID,
			GameDate:    req.GameDate,
			GameTime:    req.GameTime,
			Position:    req.Position,
			Message:     req.Message,
			Now:         s.clock.Now(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の作成に失敗しました"})
			log.Printf("スペア募集作成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"id": id, "message": "スペア募集を作成しました"})
	}
}

// handleList はスペア募集一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		requests, err := s.queries.ListSpareRequests(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集一覧の取得に失敗しました"})
			log.Printf("スペア募集一覧取得エラー: %v", err)
			return
		}

		responses := make([]spareResponse, 0, len(requests))
		for _, r := range requests {
			responses = append(responses, toSpareResponse(r))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGet はスペア募集の詳細を返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := s.queries.GetSpareRequest(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スペア募集が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の取得に失敗しました"})
			log.Printf("スペア募集取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toSpareResponse(r))
	}
}

// queueItemResponse は通知キュー項目のJSONレスポンス構造。
type queueItemResponse struct {
	// MemberID は通知候補の会員ID。
	MemberID string `json:"member_id"`
	// QueueOrder は通知順序。
	QueueOrder int64 `json:"queue_order"`
	// ClaimedAt は処理中クレームの取得時刻（RFC3339形式）。
	ClaimedAt *string `json:"claimed_at"`
	// NotifiedAt は通知完了時刻（RFC3339形式）。
	NotifiedAt *string `json:"notified_at"`
}

// handleGetQueue は募集の通知キューを返すハンドラ。
func (s *Server) handleGetQueue() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.queries.ListQueueItems(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知キューの取得に失敗しました"})
			log.Printf("通知キュー取得エラー: %v", err)
			return
		}

		responses := make([]queueItemResponse, 0, len(items))
		for _, item := range items {
			responses = append(responses, queueItemResponse{
				MemberID:   item.MemberID,
				QueueOrder: item.QueueOrder,
				ClaimedAt:  formatTimePtr(item.ClaimedAt),
				NotifiedAt: formatTimePtr(item.NotifiedAt),
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// fillRequest は募集成立リクエストのJSON構造。
type fillRequest struct {
	// MemberID はスペアとして参加する会員のID。
	MemberID string `json:"member_id" binding:"required"`
}

// handleFill は募集を成立させるハンドラ。
// 条件付きUPDATEにより、同時成立の競合は1人に絞られる。
func (s *Server) handleFill() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req fillRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		rows, err := s.queries.FillSpareRequest(c.Request.Context(), sparedb.FillSpareRequestParams{
			ID:         c.Param("id"),
			FilledByID: req.MemberID,
			Now:        s.clock.Now(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "募集の成立処理に失敗しました"})
			log.Printf("募集成立エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "募集は既に解決済みか、存在しません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "スペアが見つかりました"})
	}
}

// handleCancel は募集をキャンセルするハンドラ。募集者本人のみ実行できる。
func (s *Server) handleCancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := middleware.GetMemberID(c)
		id := c.Param("id")

		r, err := s.queries.GetSpareRequest(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スペア募集が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の取得に失敗しました"})
			return
		}
		if r.RequesterID != memberID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この募集を操作する権限がありません"})
			return
		}

		rows, err := s.queries.CancelSpareRequest(c.Request.Context(), id, s.clock.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "募集のキャンセルに失敗しました"})
			log.Printf("募集キャンセルエラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "募集は既に解決済みです"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "募集をキャンセルしました"})
	}
}

// notifyRequest は通知開始リクエストのJSON構造。
type notifyRequest struct {
	// MemberIDs は優先順位順に並んだ通知候補の会員IDリスト。
	// 並び順の決定（ランキング）は呼び出し側の責務。
	MemberIDs []string `json:"member_ids" binding:"required,min=1"`
}

// handleNotify は段階的通知を開始するハンドラ。
// 候補リストから通知キューを構築し、通知ラウンドを開始する。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		r, err := s.queries.GetSpareRequest(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スペア募集が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の取得に失敗しました"})
			return
		}
		if r.Status != "open" {
			c.JSON(http.StatusConflict, gin.H{"error": "解決済みの募集には通知を開始できません"})
			return
		}
		if r.NotificationStatus != nil && *r.NotificationStatus == "in_progress" {
			c.JSON(http.StatusConflict, gin.H{"error": "通知ラウンドが既に進行中です"})
			return
		}

		now := s.clock.Now()
		// ラウンド開始に失敗した場合、このリクエストで挿入した項目だけを取り除く。
		// DeleteQueueItemsで全削除すると、並行リクエストが勝ち取ったラウンドのキューまで壊してしまう。
		createdIDs := make([]string, 0, len(req.MemberIDs))
		cleanup := func() {
			for _, itemID := range createdIDs {
				if err := s.queries.DeleteQueueItem(c.Request.Context(), itemID); err != nil {
					log.Printf("キュー項目の削除に失敗: spare_request_id=%s, item_id=%s, error=%v", id, itemID, err)
				}
			}
		}

		for i, candidateID := range req.MemberIDs {
			itemID := uuid.New().String()
			if err := s.queries.CreateQueueItem(c.Request.Context(), sparedb.CreateQueueItemParams{
				ID:             itemID,
				SpareRequestID: id,
				MemberID:       candidateID,
				QueueOrder:     int64(i + 1),
				Now:            now,
			}); err != nil {
				// 同一会員の重複（前ラウンドの残留を含む）。reopenで世代を進めてから再実行する。
				cleanup()
				c.JSON(http.StatusConflict, gin.H{
					"error": fmt.Sprintf("候補 %s をキューに追加できません。新しいラウンドはreopen後に開始してください", candidateID),
				})
				log.Printf("キュー構築エラー: spare_request_id=%s, member_id=%s, error=%v", id, candidateID, err)
				return
			}
			createdIDs = append(createdIDs, itemID)
		}

		rows, err := s.queries.StartNotificationRound(c.Request.Context(), id, now)
		if err != nil {
			cleanup()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知ラウンドの開始に失敗しました"})
			log.Printf("通知ラウンド開始エラー: %v", err)
			return
		}
		if rows == 0 {
			cleanup()
			c.JSON(http.StatusConflict, gin.H{"error": "通知ラウンドを開始できません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "段階的通知を開始しました", "queued": len(req.MemberIDs)})
	}
}

// handlePause は通知を一時停止するハンドラ。募集者本人のみ実行できる。
func (s *Server) handlePause() gin.HandlerFunc {
	return s.handleSetPaused(true, "通知を一時停止しました")
}

// handleResume は通知を再開するハンドラ。募集者本人のみ実行できる。
func (s *Server) handleResume() gin.HandlerFunc {
	return s.handleSetPaused(false, "通知を再開しました")
}

// handleSetPaused は一時停止フラグを更新する共通ハンドラ。
func (s *Server) handleSetPaused(paused bool, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := middleware.GetMemberID(c)
		id := c.Param("id")

		r, err := s.queries.GetSpareRequest(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スペア募集が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の取得に失敗しました"})
			return
		}
		if r.RequesterID != memberID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この募集を操作する権限がありません"})
			return
		}

		if _, err := s.queries.SetNotificationPaused(c.Request.Context(), id, paused, s.clock.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "一時停止フラグの更新に失敗しました"})
			log.Printf("一時停止フラグ更新エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": message})
	}
}

// handleReopen は通知パイプラインを初期状態に戻すハンドラ。募集者本人のみ実行できる。
// 世代番号を進めて前ラウンドのキューを破棄する。新しい候補リストでの
// 通知開始は続けてnotifyを呼ぶ。
func (s *Server) handleReopen() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := middleware.GetMemberID(c)
		id := c.Param("id")

		r, err := s.queries.GetSpareRequest(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "スペア募集が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スペア募集の取得に失敗しました"})
			return
		}
		if r.RequesterID != memberID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この募集を操作する権限がありません"})
			return
		}

		rows, err := s.queries.ReopenNotificationRound(c.Request.Context(), id, s.clock.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "再募集の準備に失敗しました"})
			log.Printf("再募集エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "通知ラウンドが進行中のため再募集できません"})
			return
		}

		if err := s.queries.DeleteQueueItems(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "前ラウンドのキュー削除に失敗しました"})
			log.Printf("キュー削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "再募集の準備ができました。notifyで通知を開始してください"})
	}
}

// acceptRequest は受諾・辞退リクエストのJSON構造。
type acceptRequest struct {
	// Token は通知メールに埋め込まれた署名付きトークン。
	Token string `json:"token"`
}

// acceptTokenFrom はクエリパラメータまたはJSONボディからトークンを取り出す。
func acceptTokenFrom(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.Token
}

// handleAccept は通知を受け取った会員の参加受諾を処理するハンドラ。
// 署名付きトークンで本人確認し、条件付きUPDATEで募集を成立させる。
// 複数の候補が同時に受諾しても、成立するのは1人だけ。
func (s *Server) handleAccept() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := acceptTokenFrom(c)
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "トークンが必要です"})
			return
		}

		memberID, spareRequestID, err := parseAcceptToken(s.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		rows, err := s.queries.FillSpareRequest(c.Request.Context(), sparedb.FillSpareRequestParams{
			ID:         spareRequestID,
			FilledByID: memberID,
			Now:        s.clock.Now(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "受諾処理に失敗しました"})
			log.Printf("受諾処理エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "この募集は既に解決済みです"})
			return
		}

		log.Printf("[Spare] スペアが決定しました: spare_request_id=%s, member_id=%s", spareRequestID, memberID)
		c.JSON(http.StatusOK, gin.H{"message": "参加を受け付けました"})
	}
}

// handleDecline は参加辞退を処理するハンドラ。
// 辞退は記録せず、段階的通知は予定どおり次の候補へ進む。
func (s *Server) handleDecline() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := acceptTokenFrom(c)
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "トークンが必要です"})
			return
		}

		memberID, spareRequestID, err := parseAcceptToken(s.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		log.Printf("[Spare] 参加辞退を受け付けました: spare_request_id=%s, member_id=%s", spareRequestID, memberID)
		c.JSON(http.StatusOK, gin.H{"message": "辞退を受け付けました"})
	}
}

// settingsResponse はクラブ設定のJSONレスポンス構造。
type settingsResponse struct {
	// NotificationDelaySeconds は通知間の待機秒数。
	NotificationDelaySeconds int64 `json:"notification_delay_seconds"`
	// TestCurrentTime はテスト用の現在時刻オーバーライド（RFC3339形式）。
	TestCurrentTime *string `json:"test_current_time"`
}

// handleGetSettings はクラブ設定を返すハンドラ。
func (s *Server) handleGetSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := s.queries.GetClubSettings(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "クラブ設定の取得に失敗しました"})
			log.Printf("クラブ設定取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, settingsResponse{
			NotificationDelaySeconds: settings.NotificationDelaySeconds,
			TestCurrentTime:          formatTimePtr(settings.TestCurrentTime),
		})
	}
}

// updateSettingsRequest はクラブ設定更新リクエストのJSON構造。
type updateSettingsRequest struct {
	// NotificationDelaySeconds は通知間の待機秒数。
	NotificationDelaySeconds int64 `json:"notification_delay_seconds" binding:"required,min=1"`
	// TestCurrentTime はテスト用の現在時刻オーバーライド（RFC3339形式、null可）。
	TestCurrentTime *string `json:"test_current_time"`
}

// handleUpdateSettings はクラブ設定を更新するハンドラ。
func (s *Server) handleUpdateSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		var testCurrentTime *time.Time
		if req.TestCurrentTime != nil {
			t, err := time.Parse(time.RFC3339, *req.TestCurrentTime)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "test_current_timeはRFC3339形式で指定してください"})
				return
			}
			testCurrentTime = &t
		}

		if err := s.queries.UpdateClubSettings(c.Request.Context(), sparedb.UpdateClubSettingsParams{
			NotificationDelaySeconds: req.NotificationDelaySeconds,
			TestCurrentTime:          testCurrentTime,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "クラブ設定の更新に失敗しました"})
			log.Printf("クラブ設定更新エラー: %v", err)
			return
		}

		// 次のNowAsyncで新しいオーバーライドが読まれるようキャッシュを破棄する
		s.clock.Invalidate()

		c.JSON(http.StatusOK, gin.H{"message": "クラブ設定を更新しました"})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
