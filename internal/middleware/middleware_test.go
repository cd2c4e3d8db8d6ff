package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/repository"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := i18n.Initialize("", "en"); err != nil {
		panic(err)
	}
}

func TestPreferredLanguage(t *testing.T) {
	assert.Equal(t, "sw", preferredLanguage("sw-KE,sw;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", preferredLanguage("fr-FR,de;q=0.5"))
	assert.Equal(t, "en", preferredLanguage(""))
	assert.Equal(t, "sw", preferredLanguage(" ;q=1, SW"))
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	limiter := NewRateLimiter(0, 2)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCleanupDropsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	limiter.getVisitor("10.0.0.1")
	limiter.visitors["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	limiter.getVisitor("10.0.0.2")

	limiter.cleanupVisitors(time.Minute)
	assert.NotContains(t, limiter.visitors, "10.0.0.1")
	assert.Contains(t, limiter.visitors, "10.0.0.2")
}

func TestRoleRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-test")
	utils.SetJWTIssuer("farmtrace-test")

	r := gin.New()
	r.GET("/settle", OperatorRequired(), RoleRequired(utils.RoleFinance), func(c *gin.Context) {
		operator, _ := utils.GetOperatorFromContext(c)
		c.String(http.StatusOK, operator)
	})

	call := func(role string) *httptest.ResponseRecorder {
		token, err := utils.GenerateJWT("op-1", role, 1)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/settle", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusForbidden, call(utils.RoleAgent).Code)
	w := call(utils.RoleFinance)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-1", w.Body.String())
	assert.Equal(t, http.StatusOK, call(utils.RoleAdmin).Code)
}

func TestAuditLogBoundsUnsizedBodies(t *testing.T) {
	repo := repository.NewMemoryRepository()
	r := gin.New()
	r.Use(AuditLogMiddleware(repo))

	var received int
	r.POST("/v1/produce", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		received = len(body)
		c.Status(http.StatusAccepted)
	})

	send := func(body []byte) {
		req := httptest.NewRequest("POST", "/v1/produce", io.NopCloser(bytes.NewReader(body)))
		// unknown length, as with chunked transfer encoding
		req.ContentLength = -1
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	large := []byte(`{"notes":"` + strings.Repeat("x", maxAuditBody) + `"}`)
	send(large)
	assert.Equal(t, len(large), received)

	small := []byte(`{"name":"Sukuma Wiki"}`)
	send(small)
	assert.Equal(t, len(small), received)

	require.Eventually(t, func() bool { return len(repo.AuditLogs()) == 2 }, time.Second, 10*time.Millisecond)
	var stored []string
	for _, entry := range repo.AuditLogs() {
		if name, ok := entry.NewValues["name"]; ok {
			stored = append(stored, name.(string))
		}
		assert.NotContains(t, entry.NewValues, "notes")
	}
	assert.Equal(t, []string{"Sukuma Wiki"}, stored)
}
