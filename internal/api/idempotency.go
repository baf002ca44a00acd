package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"tourbook/internal/domain"

	"github.com/gin-gonic/gin"
)

const maxIdempotencyKeyLen = 128

// bodyRecorder copies the response body so it can be stored for replays.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent replays the stored response for a repeated Idempotency-Key. A
// key reused with a different request, or still in flight, is a conflict.
// Server errors and panics release the key so the client can retry.
func (s *HTTPServer) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
		if key == "" || s.idempotency == nil {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			s.abortWithError(c, domain.ValidationError{Field: idempotencyHeader, Msg: "is too long"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.abortWithError(c, domain.ValidationError{Msg: "unreadable request body", Err: err})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		caller := principal(c)
		storeKey := caller.Name + ":" + key
		fingerprint := requestFingerprint(c.Request.Method, c.FullPath(), body)
		ctx := c.Request.Context()

		claimed, existing, err := s.idempotency.Claim(ctx, storeKey, fingerprint, s.cfg.IdempotencyTTL)
		if err != nil {
			s.abortWithError(c, domain.PersistenceError{Op: "claim idempotency key", Transient: true, Err: err})
			return
		}
		if !claimed {
			switch {
			case existing == nil || existing.Fingerprint != fingerprint:
				s.abortWithError(c, domain.ConflictError{Resource: "idempotency key", Msg: "key was used for a different request"})
			case !existing.Completed:
				s.abortWithError(c, domain.ConflictError{Resource: "idempotency key", Msg: "request is still in progress"})
			default:
				c.Header("Idempotent-Replayed", "true")
				c.Data(existing.StatusCode, "application/json; charset=utf-8", existing.Body)
				c.Abort()
			}
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		defer func() {
			if r := recover(); r != nil {
				s.releaseIdempotencyKey(ctx, storeKey, key)
				panic(r)
			}
		}()
		c.Next()

		status := rec.Status()
		if status >= http.StatusInternalServerError {
			s.releaseIdempotencyKey(ctx, storeKey, key)
			return
		}
		err = s.idempotency.Complete(ctx, storeKey, &domain.IdempotencyRecord{
			Fingerprint: fingerprint,
			StatusCode:  status,
			Body:        rec.body.Bytes(),
			Completed:   true,
		}, s.cfg.IdempotencyTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to store idempotent response")
		}
	}
}

func (s *HTTPServer) releaseIdempotencyKey(ctx context.Context, storeKey, key string) {
	if err := s.idempotency.Release(ctx, storeKey); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to release idempotency key")
	}
}

func requestFingerprint(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
