package spare

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// acceptTokenTTL は参加受諾トークンの有効期間。
// 試合前日の募集にも応えられるよう長めに取る。
const acceptTokenTTL = 7 * 24 * time.Hour

// acceptClaims は参加受諾トークンのクレーム。
// 通知メール内のリンクに埋め込まれ、ログインなしで受諾・辞退を受け付ける。
type acceptClaims struct {
	jwt.RegisteredClaims
	// MemberID は候補会員のID。
	MemberID string `json:"member_id"`
	// SpareRequestID は対象募集のID。
	SpareRequestID string `json:"spare_request_id"`
}

// issueAcceptToken は候補会員向けの参加受諾トークンを発行する。
func issueAcceptToken(secret, memberID, spareRequestID string, now time.Time) (string, error) {
	claims := acceptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(acceptTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "rinkhub-spare",
		},
		MemberID:       memberID,
		SpareRequestID: spareRequestID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("受諾トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// parseAcceptToken は参加受諾トークンを検証し、会員IDと募集IDを返す。
func parseAcceptToken(secret, tokenString string) (memberID, spareRequestID string, err error) {
	claims := &acceptClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("受諾トークンが無効です")
	}
	return claims.MemberID, claims.SpareRequestID, nil
}
