package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's retry key on owner POSTs.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
)

var idemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// Scope namespaces the keys, so one key may serve unrelated operations.
	Scope string
	// MaxLen defaults to 200, the width of the stored key.
	MaxLen int
	// Seen reports whether a live record exists for the key. A request that
	// will be answered from a record skips rate limiting.
	Seen func(ctx context.Context, ownerID uint, scope, key string) (bool, error)
}

// Idempotency validates the Idempotency-Key header of POST requests and
// stores the key for IdempotencyKey. Malformed keys are rejected with 400.
// Replaying the stored result is left to the handler.
func Idempotency(opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > maxLen || !idemKeyPattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "Idempotency-Key must be 1-" + strconv.Itoa(maxLen) + " characters of A-Z a-z 0-9 . _ ~ : -",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if uid, ok := userIDFromCtx(c); ok && opts.Seen != nil {
			seen, err := opts.Seen(c.Request.Context(), uid, opts.Scope, key)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup")
			}
			if seen {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

// IdempotencyKey returns the validated key, or "" when the request has none.
func IdempotencyKey(c *gin.Context) string { return c.GetString(ctxKeyIdemKey) }

// IsReplay reports whether a live record exists for this request's key.
func IsReplay(c *gin.Context) bool { return c.GetBool(ctxKeyIdemReplay) }
