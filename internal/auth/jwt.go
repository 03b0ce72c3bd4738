package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/datamodels/chat"
)

// Claims 令牌中携带的会话方身份
type Claims struct {
	PartyID int64     `json:"party_id"`
	Side    chat.Side `json:"side"`
	jwt.RegisteredClaims
}

// Party 令牌持有者在聊天中的身份
func (c *Claims) Party() chat.Party {
	return chat.Party{Side: c.Side, ID: c.PartyID}
}

// GenerateToken 为会话方签发 JWT
func GenerateToken(cfg *config.JWTConfig, p chat.Party) (string, error) {
	if !p.Side.Valid() {
		return "", errors.New("invalid party side")
	}
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		PartyID: p.ID,
		Side:    p.Side,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken 解析并校验 JWT
func ParseToken(cfg *config.JWTConfig, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Side.Valid() {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
