package session

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// tokenEncoding drops padding so values paste cleanly into QR payloads.
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TokenIssuer mints the opaque tokens a session displays. Values carry no
// structure; all meaning lives in the registry's token index.
type TokenIssuer struct {
	ttlSeconds int
	now        func() time.Time
}

func NewTokenIssuer(ttlSeconds int, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{ttlSeconds: ttlSeconds, now: now}
}

// Mint returns a fresh token bound to the session. 20 random bytes encode to a
// 32-character value.
func (i *TokenIssuer) Mint(sessionID uuid.UUID) (models.ClassToken, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return models.ClassToken{}, fmt.Errorf("mint token: %w", err)
	}
	return models.ClassToken{
		Value:      tokenEncoding.EncodeToString(buf),
		SessionID:  sessionID,
		IssuedAt:   i.now(),
		TTLSeconds: i.ttlSeconds,
	}, nil
}
