package attribution

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Store abstracts the per-visitor key-value storage the tracker writes to.
// Implementations decide where the data lives (cookies in production, memory
// in tests) so the capture logic stays independent of the transport.
type Store interface {
	// Get returns the stored value for key and whether it was present.
	Get(key string) (string, bool)
	// Set stores value under key with the given time-to-live.
	Set(key, value string, ttl time.Duration)
	// Clear removes key from the store.
	Clear(key string)
}

// CookieStore persists tracker state in first-party cookies on the current
// request. Reads see values sent by the client; writes are added to the
// response and also visible to subsequent reads within the same request.
type CookieStore struct {
	c       *gin.Context
	written map[string]string
}

// NewCookieStore returns a Store bound to the given request context.
func NewCookieStore(c *gin.Context) *CookieStore {
	return &CookieStore{c: c, written: make(map[string]string)}
}

func (s *CookieStore) Get(key string) (string, bool) {
	if v, ok := s.written[key]; ok {
		return v, true
	}
	v, err := s.c.Cookie(key)
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *CookieStore) Set(key, value string, ttl time.Duration) {
	s.written[key] = value
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(key, value, int(ttl.Seconds()), "/", "", false, false)
}

func (s *CookieStore) Clear(key string) {
	delete(s.written, key)
	s.c.SetCookie(key, "", -1, "/", "", false, false)
}
