package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "seatengine/pkg/api/middleware"
	"seatengine/pkg/auth"
)

func authRouter(t *testing.T) (*gin.Engine, *auth.JWTService, *auth.MemoryAPIKeyStore) {
	t.Helper()
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	require.NoError(t, err)
	keys := auth.NewMemoryAPIKeyStore()

	router := gin.New()
	router.Use(AuthMiddleware(AuthConfig{JWTService: jwtSvc, APIKeyStore: keys, SkipPaths: []string{"/health"}}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/read", RequireRole(auth.RoleObserver), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/write", RequireRole(auth.RoleCommissioner), func(c *gin.Context) { c.Status(http.StatusOK) })
	return router, jwtSvc, keys
}

func serve(router *gin.Engine, method, path string, header map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	router, _, _ := authRouter(t)
	assert.Equal(t, http.StatusOK, serve(router, "GET", "/health", nil))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "GET", "/read", nil))
}

func TestAuthMiddleware_BearerRoles(t *testing.T) {
	router, jwtSvc, _ := authRouter(t)

	observer, _ := jwtSvc.GenerateToken("u-1", "observer", auth.RoleObserver)
	commissioner, _ := jwtSvc.GenerateToken("u-2", "commissioner", auth.RoleCommissioner)

	assert.Equal(t, http.StatusOK, serve(router, "GET", "/read", map[string]string{AuthHeaderKey: "Bearer " + observer}))
	assert.Equal(t, http.StatusForbidden, serve(router, "POST", "/write", map[string]string{AuthHeaderKey: "Bearer " + observer}))
	assert.Equal(t, http.StatusOK, serve(router, "POST", "/write", map[string]string{AuthHeaderKey: "bearer " + commissioner}))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "GET", "/read", map[string]string{AuthHeaderKey: "Bearer junk"}))
}

func TestAuthMiddleware_APIKey(t *testing.T) {
	router, _, keys := authRouter(t)

	plain, _, err := keys.CreateKey(context.Background(), auth.APIKeyInfo{Name: "feed", OwnerID: "ops", Role: auth.RoleCommissioner})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(router, "POST", "/write", map[string]string{APIKeyHeaderKey: plain}))
	assert.Equal(t, http.StatusUnauthorized, serve(router, "POST", "/write", map[string]string{APIKeyHeaderKey: "sk_nope"}))
}

// staleKeyStore answers every key with a role no longer in the hierarchy, as a
// row written before a role was retired would.
type staleKeyStore struct{ auth.APIKeyStore }

func (staleKeyStore) ValidateKey(context.Context, string) (*auth.APIKeyInfo, error) {
	return &auth.APIKeyInfo{ID: "key_old", OwnerID: "ops", Role: auth.Role("auditor")}, nil
}

func TestAuthMiddleware_UnknownRoleIsUnauthenticated(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(AuthConfig{APIKeyStore: staleKeyStore{}}))
	router.GET("/read", Observer(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, "GET", "/read", map[string]string{APIKeyHeaderKey: "sk_any"}))
}

func TestAccessLevels(t *testing.T) {
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(AuthConfig{JWTService: jwtSvc}))
	router.GET("/elections", Observer(), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/elections/:id/runs", Commissioner(), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	router.POST("/apikeys", Admin(), func(c *gin.Context) { c.Status(http.StatusCreated) })

	tokens := map[auth.Role]string{}
	for _, role := range []auth.Role{auth.RoleObserver, auth.RoleCommissioner, auth.RoleAdmin} {
		tok, err := jwtSvc.GenerateToken("u-"+string(role), string(role), role)
		require.NoError(t, err)
		tokens[role] = tok
	}

	tests := []struct {
		role   auth.Role
		method string
		path   string
		want   int
	}{
		{auth.RoleObserver, "GET", "/elections", http.StatusOK},
		{auth.RoleObserver, "POST", "/elections/e1/runs", http.StatusForbidden},
		{auth.RoleObserver, "POST", "/apikeys", http.StatusForbidden},
		{auth.RoleCommissioner, "GET", "/elections", http.StatusOK},
		{auth.RoleCommissioner, "POST", "/elections/e1/runs", http.StatusAccepted},
		{auth.RoleCommissioner, "POST", "/apikeys", http.StatusForbidden},
		{auth.RoleAdmin, "POST", "/elections/e1/runs", http.StatusAccepted},
		{auth.RoleAdmin, "POST", "/apikeys", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+" "+tt.method+" "+tt.path, func(t *testing.T) {
			got := serve(router, tt.method, tt.path, map[string]string{AuthHeaderKey: "Bearer " + tokens[tt.role]})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallerFields(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CallerFields(c))

	c.Set(ContextUserKey, &auth.Claims{UserID: "u-7", Role: auth.RoleCommissioner})
	fields := CallerFields(c)
	require.Len(t, fields, 2)
	assert.Equal(t, "caller_id", fields[0].Key)
	assert.Equal(t, "u-7", fields[0].String)
	assert.Equal(t, "caller_role", fields[1].Key)
	assert.Equal(t, "commissioner", fields[1].String)
}

func TestMetricsMiddleware_LabelsCallerRoleAndDenials(t *testing.T) {
	_, jwtSvc, _ := authRouter(t)
	metered := gin.New()
	metered.Use(MetricsMiddleware())
	metered.Use(AuthMiddleware(AuthConfig{JWTService: jwtSvc}))
	metered.POST("/elections/:id/tallies", Commissioner(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	observer, _ := jwtSvc.GenerateToken("u-1", "observer", auth.RoleObserver)
	commissioner, _ := jwtSvc.GenerateToken("u-2", "commissioner", auth.RoleCommissioner)

	const route = "/elections/:id/tallies"
	okBefore := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", route, "204", "commissioner"))
	deniedBefore := testutil.ToFloat64(HTTPAccessDenied.WithLabelValues(route, "403"))
	anonBefore := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", route, "401", "anonymous"))

	assert.Equal(t, http.StatusNoContent, serve(metered, "POST", "/elections/e1/tallies", map[string]string{AuthHeaderKey: "Bearer " + commissioner}))
	assert.Equal(t, http.StatusForbidden, serve(metered, "POST", "/elections/e2/tallies", map[string]string{AuthHeaderKey: "Bearer " + observer}))
	assert.Equal(t, http.StatusUnauthorized, serve(metered, "POST", "/elections/e3/tallies", nil))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", route, "204", "commissioner")))
	assert.Equal(t, deniedBefore+1, testutil.ToFloat64(HTTPAccessDenied.WithLabelValues(route, "403")))
	assert.Equal(t, anonBefore+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", route, "401", "anonymous")))
}
