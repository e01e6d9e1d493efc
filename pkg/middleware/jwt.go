package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 会員ID等の情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// MemberID は認証済み会員の一意識別子。
	MemberID string `json:"member_id"`
	// Email は会員のメールアドレス。
	Email string `json:"email"`
}

// headerKeyMemberID はサービス間で会員IDを伝播するためのHTTPヘッダーキー。
const headerKeyMemberID = "X-Member-ID"

// GenerateJWT は会員情報からJWTトークンを生成する。
// gatewayサービスがログイン処理後に呼び出す。
func GenerateJWT(secret, memberID, email string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "rinkhub-gateway",
		},
		MemberID: memberID,
		Email:    email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "member_id" と "email" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("member_id", claims.MemberID)
		c.Set("email", claims.Email)
		c.Header(headerKeyMemberID, claims.MemberID)
		c.Next()
	}
}

// GetMemberID はGinコンテキストから会員IDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetMemberID(c *gin.Context) string {
	memberID, _ := c.Get("member_id")
	if id, ok := memberID.(string); ok {
		return id
	}
	return ""
}
