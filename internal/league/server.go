package league

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

	leaguedb "github.com/nao1215/rinkhub/internal/league/db"
	"github.com/nao1215/rinkhub/pkg/middleware"
)

// Server はリーグサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はクエリ実行オブジェクト。
	queries *leaguedb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しいリーグサーバーを生成する。
// SQLiteデータベースへの接続とマイグレーションの適用を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/league.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		port:    port,
		queries: leaguedb.New(sqlDB),
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
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		leagues := api.Group("/leagues")
		{
			// リーグ作成
			leagues.POST("", s.handleCreate())
			// リーグ一覧取得
			leagues.GET("", s.handleList())
			// リーグ詳細取得
			leagues.GET("/:id", s.handleGet())
			// リーグ更新
			leagues.PUT("/:id", s.handleUpdate())
			// リーグ削除
			leagues.DELETE("/:id", s.handleDelete())
			// リーグに試合を追加
			leagues.POST("/:id/games", s.handleCreateGame())
			// リーグの試合一覧取得
			leagues.GET("/:id/games", s.handleListGames())
			// 試合削除
			leagues.DELETE("/:id/games/:game_id", s.handleDeleteGame())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "league"})
	})
}

// leagueRequest はリーグ作成・更新リクエストのJSON構造。
type leagueRequest struct {
	// Name はリーグ名。
	Name string `json:"name" binding:"required"`
	// DayOfWeek は定例の曜日。
	DayOfWeek string `json:"day_of_week" binding:"required"`
	// StartTime は定例の開始時刻（HH:MM）。
	StartTime string `json:"start_time" binding:"required"`
	// SeasonStart はシーズン開始日（YYYY-MM-DD）。
	SeasonStart string `json:"season_start" binding:"required"`
	// SeasonEnd はシーズン終了日（YYYY-MM-DD）。
	SeasonEnd string `json:"season_end" binding:"required"`
}

// leagueResponse はリーグのJSONレスポンス構造。
type leagueResponse struct {
	// ID はリーグの一意識別子。
	ID string `json:"id"`
	// Name はリーグ名。
	Name string `json:"name"`
	// DayOfWeek は定例の曜日。
	DayOfWeek string `json:"day_of_week"`
	// StartTime は定例の開始時刻。
	StartTime string `json:"start_time"`
	// SeasonStart はシーズン開始日。
	SeasonStart string `json:"season_start"`
	// SeasonEnd はシーズン終了日。
	SeasonEnd string `json:"season_end"`
	// CreatedAt は作成時刻（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は最終更新時刻（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// toLeagueResponse はDB行をJSONレスポンスに変換する。
func toLeagueResponse(l leaguedb.League) leagueResponse {
	return leagueResponse{
		ID:          l.ID,
		Name:        l.Name,
		DayOfWeek:   l.DayOfWeek,
		StartTime:   l.StartTime,
		SeasonStart: l.SeasonStart,
		SeasonEnd:   l.SeasonEnd,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   l.UpdatedAt.Format(time.RFC3339),
	}
}

// handleCreate はリーグ作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req leagueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id := uuid.New().String()
		if err := s.queries.CreateLeague(c.Request.Context(), leaguedb.CreateLeagueParams{
			ID:          id,
			Name:        req.Name,
			DayOfWeek:   req.DayOfWeek,
			StartTime:   req.StartTime,
			SeasonStart: req.SeasonStart,
			SeasonEnd:   req.SeasonEnd,
			Now:         time.Now().UTC(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグの作成に失敗しました"})
			log.Printf("リーグ作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetLeague(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成したリーグの取得に失敗しました"})
			log.Printf("リーグ取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toLeagueResponse(created))
	}
}

// handleList はリーグ一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		leagues, err := s.queries.ListLeagues(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグ一覧の取得に失敗しました"})
			log.Printf("リーグ一覧取得エラー: %v", err)
			return
		}

		responses := make([]leagueResponse, 0, len(leagues))
		for _, l := range leagues {
			responses = append(responses, toLeagueResponse(l))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGet はリーグ詳細取得を処理するハンドラを返す。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := s.queries.GetLeague(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "リーグが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグの取得に失敗しました"})
			log.Printf("リーグ取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toLeagueResponse(l))
	}
}

// handleUpdate はリーグ更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req leagueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id := c.Param("id")
		rows, err := s.queries.UpdateLeague(c.Request.Context(), leaguedb.UpdateLeagueParams{
			ID:          id,
			Name:        req.Name,
			DayOfWeek:   req.DayOfWeek,
			StartTime:   req.StartTime,
			SeasonStart: req.SeasonStart,
			SeasonEnd:   req.SeasonEnd,
			Now:         time.Now().UTC(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグの更新に失敗しました"})
			log.Printf("リーグ更新エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "リーグが見つかりません"})
			return
		}

		updated, err := s.queries.GetLeague(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後のリーグの取得に失敗しました"})
			log.Printf("リーグ取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, toLeagueResponse(updated))
	}
}

// handleDelete はリーグ削除を処理するハンドラを返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.DeleteLeague(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグの削除に失敗しました"})
			log.Printf("リーグ削除エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "リーグが見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "リーグを削除しました"})
	}
}

// gameRequest は試合作成リクエストのJSON構造。
type gameRequest struct {
	// GameDate は試合日（YYYY-MM-DD）。
	GameDate string `json:"game_date" binding:"required"`
	// GameTime は開始時刻（HH:MM）。
	GameTime string `json:"game_time" binding:"required"`
	// Sheet は使用シート。
	Sheet string `json:"sheet"`
	// HomeTeam / AwayTeam は対戦チーム名。
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
}

// gameResponse は試合のJSONレスポンス構造。
type gameResponse struct {
	// ID は試合の一意識別子。
	ID string `json:"id"`
	// LeagueID は所属リーグのID。
	LeagueID string `json:"league_id"`
	// GameDate は試合日。
	GameDate string `json:"game_date"`
	// GameTime は開始時刻。
	GameTime string `json:"game_time"`
	// Sheet は使用シート。
	Sheet string `json:"sheet"`
	// HomeTeam / AwayTeam は対戦チーム名。
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	// CreatedAt は作成時刻（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toGameResponse はDB行をJSONレスポンスに変換する。
func toGameResponse(g leaguedb.Game) gameResponse {
	return gameResponse{
		ID:        g.ID,
		LeagueID:  g.LeagueID,
		GameDate:  g.GameDate,
		GameTime:  g.GameTime,
		Sheet:     g.Sheet,
		HomeTeam:  g.HomeTeam,
		AwayTeam:  g.AwayTeam,
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
	}
}

// handleCreateGame はリーグへの試合追加を処理するハンドラを返す。
func (s *Server) handleCreateGame() gin.HandlerFunc {
	return func(c *gin.Context) {
		leagueID := c.Param("id")

		// リーグの存在確認
		if _, err := s.queries.GetLeague(c.Request.Context(), leagueID); errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "リーグが見つかりません"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リーグの取得に失敗しました"})
			log.Printf("リーグ取得エラー: %v", err)
			return
		}

		var req gameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		id := uuid.New().String()
		if err := s.queries.CreateGame(c.Request.Context(), leaguedb.CreateGameParams{
			ID:       id,
			LeagueID: leagueID,
			GameDate: req.GameDate,
			GameTime: req.GameTime,
			Sheet:    req.Sheet,
			HomeTeam: req.HomeTeam,
			AwayTeam: req.AwayTeam,
			Now:      time.Now().UTC(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "試合の作成に失敗しました"})
			log.Printf("試合作成エラー: %v", err)
			return
		}

		created, err := s.queries.GetGame(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成した試合の取得に失敗しました"})
			log.Printf("試合取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toGameResponse(created))
	}
}

// handleListGames はリーグの試合一覧取得を処理するハンドラを返す。
func (s *Server) handleListGames() gin.HandlerFunc {
	return func(c *gin.Context) {
		games, err := s.queries.ListGamesByLeague(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "試合一覧の取得に失敗しました"})
			log.Printf("試合一覧取得エラー: %v", err)
			return
		}

		responses := make([]gameResponse, 0, len(games))
		for _, g := range games {
			responses = append(responses, toGameResponse(g))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleDeleteGame は試合削除を処理するハンドラを返す。
func (s *Server) handleDeleteGame() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.DeleteGame(c.Request.Context(), c.Param("game_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "試合の削除に失敗しました"})
			log.Printf("試合削除エラー: %v", err)
			return
		}
		if rows == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "試合が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "試合を削除しました"})
	}
}
