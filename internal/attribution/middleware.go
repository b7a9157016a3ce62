package attribution

import (
	"github.com/gin-gonic/gin"
)

const contextKey = "attribution_tracker"

// Middleware captures marketing parameters and affiliate referral codes from
// every request into visitor cookies, and exposes the tracker to downstream
// handlers via FromContext.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker := NewTracker(NewCookieStore(c))
		tracker.CaptureVisit(c.Request.URL.Query(), c.Request.Referer())
		tracker.CaptureAffiliate(c.Request.URL.Query())
		c.Set(contextKey, tracker)
		c.Next()
	}
}

// FromContext returns the tracker installed by Middleware. When the
// middleware did not run it returns a tracker over the request's cookies so
// callers always get a usable value.
func FromContext(c *gin.Context) *Tracker {
	if v, ok := c.Get(contextKey); ok {
		if tracker, ok := v.(*Tracker); ok {
			return tracker
		}
	}
	return NewTracker(NewCookieStore(c))
}
