package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGetDeviceType(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{
			name:      "iPhone detected as mobile",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)",
			want:      "mobile",
		},
		{
			name:      "Android mobile detected as mobile",
			userAgent: "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			want:      "mobile",
		},
		{
			name:      "iPad detected as tablet",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)",
			want:      "tablet",
		},
		{
			name:      "Android tablet detected as tablet",
			userAgent: "Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      "tablet",
		},
		{
			name:      "Windows desktop",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      "desktop",
		},
		{
			name:      "Mac desktop",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			want:      "desktop",
		},
		{
			name:      "Empty user agent returns unknown",
			userAgent: "",
			want:      "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.Header.Set("User-Agent", tt.userAgent)

			got := GetDeviceType(c)
			if got != tt.want {
				t.Errorf("GetDeviceType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetDeviceOS(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{
			name:      "Android phone",
			userAgent: "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36",
			want:      "android",
		},
		{
			name:      "iPhone",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)",
			want:      "ios",
		},
		{
			name:      "iPad",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)",
			want:      "ios",
		},
		{
			name:      "Windows desktop",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			want:      "other",
		},
		{
			name:      "Linux desktop",
			userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
			want:      "other",
		},
		{
			name:      "Empty user agent",
			userAgent: "",
			want:      "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.Header.Set("User-Agent", tt.userAgent)

			got := GetDeviceOS(c)
			if got != tt.want {
				t.Errorf("GetDeviceOS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetRealClientIP(t *testing.T) {
	tests := []struct {
		name         string
		forwardedFor string
		realIP       string
		cfIP         string
		fallbackIP   string
		want         string
	}{
		{
			name:         "X-Forwarded-For single entry",
			forwardedFor: "203.0.113.50",
			want:         "203.0.113.50",
		},
		{
			name:         "X-Forwarded-For chain uses first entry",
			forwardedFor: "203.0.113.50, 70.41.3.18, 150.172.238.178",
			want:         "203.0.113.50",
		},
		{
			name:   "X-Real-IP when no forwarded header",
			realIP: "198.51.100.7",
			want:   "198.51.100.7",
		},
		{
			name: "CF-Connecting-IP when no other headers",
			cfIP: "203.0.113.9",
			want: "203.0.113.9",
		},
		{
			name:         "X-Forwarded-For wins over X-Real-IP",
			forwardedFor: "203.0.113.50",
			realIP:       "198.51.100.7",
			want:         "203.0.113.50",
		},
		{
			name:       "No proxy headers uses fallback",
			fallbackIP: "192.168.1.1",
			want:       "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.forwardedFor != "" {
				c.Request.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				c.Request.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.cfIP != "" {
				c.Request.Header.Set("CF-Connecting-IP", tt.cfIP)
			}
			if tt.fallbackIP != "" {
				c.Request.RemoteAddr = tt.fallbackIP + ":8080"
			}

			got := GetRealClientIP(c)
			if got != tt.want {
				t.Errorf("GetRealClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}
