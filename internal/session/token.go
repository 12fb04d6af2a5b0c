package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken covers malformed, tampered and expired tokens alike; the
// caller only ever needs to know the token is unusable.
var ErrInvalidToken = errors.New("invalid session token")

// Issuer signs and verifies session tokens.
//
// A token is base64url("user:issued:expires") + "." + base64url(HMAC-SHA256).
// A verified token re-establishes a session for the user it names without
// consulting the credential store again; revoking a user therefore takes
// effect only once their outstanding tokens expire or the secret rotates.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an issuer keyed with secret. An empty secret gets a
// random per-process key, which invalidates all tokens on restart.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &Issuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for username valid for the issuer's TTL.
func (i *Issuer) Issue(username string) string {
	issued := i.now()
	payload := username + ":" +
		strconv.FormatInt(issued.Unix(), 10) + ":" +
		strconv.FormatInt(issued.Add(i.ttl).Unix(), 10)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(i.sign([]byte(payload)))
}

// Verify checks signature and expiry and returns the username the token was
// issued to.
func (i *Issuer) Verify(token string) (string, error) {
	body, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return "", ErrInvalidToken
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(body)
	if err != nil {
		return "", ErrInvalidToken
	}
	got, err := enc.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal(got, i.sign(payload)) {
		return "", ErrInvalidToken
	}

	// username may itself contain ':'; the two timestamps are the last fields
	p := string(payload)
	last := strings.LastIndex(p, ":")
	if last < 0 {
		return "", ErrInvalidToken
	}
	mid := strings.LastIndex(p[:last], ":")
	if mid <= 0 {
		return "", ErrInvalidToken
	}
	expires, err := strconv.ParseInt(p[last+1:], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !i.now().Before(time.Unix(expires, 0)) {
		return "", ErrInvalidToken
	}
	return p[:mid], nil
}

func (i *Issuer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
