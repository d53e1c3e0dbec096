// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates owner API requests. Clients send an HS256 JWT as a
// bearer token whose subject is the numeric account id; on success the id is
// stored in the Gin context under "userID" for handlers, the rate limiter
// and the idempotency validator.
package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ctxKeyUserID = "userID"

// IssueToken signs an owner API token for userID. A ttl <= 0 issues a token
// without expiry.
func IssueToken(secret []byte, userID uint, ttl time.Duration, now time.Time) (string, error) {
	if userID == 0 {
		return "", errors.New("auth: user id must be set")
	}
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatUint(uint64(userID), 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates raw and returns the account id in its subject.
func ParseToken(secret []byte, raw string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return 0, err
	}
	if !tok.Valid {
		return 0, errors.New("auth: invalid token")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("auth: invalid subject")
	}
	return uint(id), nil
}

// Auth rejects requests without a valid bearer token with 401.
func Auth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !found || raw == "" {
			c.Header("WWW-Authenticate", `Bearer realm="api"`)
			unauthorized(c, "missing bearer token")
			return
		}
		id, err := ParseToken(secret, raw)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(ctxKeyUserID, id)
		c.Next()
	}
}

// UserID returns the account id set by Auth.
func UserID(c *gin.Context) (uint, bool) { return userIDFromCtx(c) }

func userIDFromCtx(c *gin.Context) (uint, bool) {
	id, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	uid, ok := id.(uint)
	return uid, ok && uid != 0
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
