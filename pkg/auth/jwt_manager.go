package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

// RoomClaims - токен повторного входа: subject это userID, Room - код комнаты
type RoomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

func NewJWTManager(secret string, duration time.Duration) *JWTManager {
	return &JWTManager{secretKey: secret, tokenDuration: duration}
}

// Generate создаёт JWT для subject
func (m *JWTManager) Generate(subject string) (string, error) {
	return m.sign(&RoomClaims{RegisteredClaims: m.registered(subject)})
}

// IssueRoomToken подписывает токен, по которому участник вернется в комнату под тем же userID
func (m *JWTManager) IssueRoomToken(userID, roomCode string) (string, error) {
	return m.sign(&RoomClaims{Room: roomCode, RegisteredClaims: m.registered(userID)})
}

// VerifyRoomToken возвращает userID и код комнаты из токена
func (m *JWTManager) VerifyRoomToken(token string) (string, string, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return "", "", err
	}
	if claims.Subject == "" || claims.Room == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Room, nil
}

// Verify парсит и проверяет JWT
func (m *JWTManager) Verify(accessToken string) (*RoomClaims, error) {
	token, err := jwt.ParseWithClaims(accessToken, &RoomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*RoomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *JWTManager) registered(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
	}
}

func (m *JWTManager) sign(claims *RoomClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// ExtractTokenFromHeader извлекает токен из Authorization header
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header")
	}
	return parts[1], nil
}
