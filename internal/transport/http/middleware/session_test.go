package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

func newSessionRouter(cfg config.SessionSettings, seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionCookie(cfg))
	r.GET("/", func(c *gin.Context) {
		*seen = GetSessionID(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestSessionCookieIssuesSlotOnce(t *testing.T) {
	var seen string
	r := newSessionRouter(config.SessionSettings{SecureCookie: true}, &seen)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != "roomie_session" || cookie.Value != seen || seen == "" {
		t.Fatalf("unexpected cookie %+v (handler saw %q)", cookie, seen)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.MaxAge != int((30*24*time.Hour).Seconds()) {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if len(rr.Result().Cookies()) != 0 {
		t.Fatal("known slot should not be reissued")
	}
	if seen != cookie.Value {
		t.Fatalf("expected slot %q, got %q", cookie.Value, seen)
	}
}

func TestSessionCookieReplacesMalformedValue(t *testing.T) {
	var seen string
	r := newSessionRouter(config.SessionSettings{CookieName: "slot", TTL: time.Hour}, &seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "slot", Value: "../../etc/passwd"})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "slot" || cookies[0].MaxAge != 3600 {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if seen == "../../etc/passwd" || seen != cookies[0].Value {
		t.Fatalf("malformed slot leaked through: %q", seen)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.roomiesplit.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.roomiesplit.example.com")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.roomiesplit.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials to be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rr.Code)
	}
}
