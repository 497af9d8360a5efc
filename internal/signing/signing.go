// Package signing issues the short-lived tokens that let workers download
// skill files without carrying the API key into every file URL.
package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid or expired download token")

type fileClaims struct {
	SkillID  string `json:"skill_id"`
	FilePath string `json:"file_path"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// SignFileToken binds a token to one (skill, path) pair so a leaked URL cannot
// be replayed against other files.
func (s *Signer) SignFileToken(skillID, filePath string) (string, error) {
	now := time.Now()
	claims := fileClaims{
		SkillID:  skillID,
		FilePath: filePath,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign file token: %w", err)
	}
	return token, nil
}

// VerifyFileToken returns the (skill, path) pair the token was issued for.
func (s *Signer) VerifyFileToken(token string) (skillID, filePath string, err error) {
	var claims fileClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.SkillID == "" || claims.FilePath == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SkillID, claims.FilePath, nil
}
