package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type authenticatorStub struct {
	principals map[string]*models.JWTClaims
}

func (a *authenticatorStub) Authenticate(_ context.Context, token string) (*models.JWTClaims, error) {
	if claims, ok := a.principals[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditWriterStub struct {
	logs []*models.AuditLog
}

func (a *auditWriterStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newAuthRouter(auth Authenticator, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", append([]gin.HandlerFunc{JWT(auth)}, append(mw, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})...)...)
	router.GET("/optional", OptionalJWT(auth), func(c *gin.Context) {
		if _, ok := c.Get(ContextUserKey); ok {
			c.String(http.StatusOK, "user")
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return router
}

func serve(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTRequiresValidToken(t *testing.T) {
	auth := &authenticatorStub{principals: map[string]*models.JWTClaims{
		"good": {UserID: "u1", Role: models.RoleStudent},
	}}
	router := newAuthRouter(auth)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/protected", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/protected", "bad").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, "/protected", "good").Code)
}

func TestOptionalJWTFallsThroughAsAnonymous(t *testing.T) {
	auth := &authenticatorStub{principals: map[string]*models.JWTClaims{
		"good": {UserID: "u1", Role: models.RoleStudent},
	}}
	router := newAuthRouter(auth)

	assert.Equal(t, "anonymous", serve(router, "/optional", "").Body.String())
	assert.Equal(t, "anonymous", serve(router, "/optional", "bad").Body.String())
	assert.Equal(t, "user", serve(router, "/optional", "good").Body.String())
}

func TestEducatorOnly(t *testing.T) {
	auth := &authenticatorStub{principals: map[string]*models.JWTClaims{
		"student":  {UserID: "u1", Role: models.RoleStudent},
		"educator": {UserID: "u2", Role: models.RoleEducator},
		"admin":    {UserID: "u3", Role: models.RoleAdmin},
	}}
	router := newAuthRouter(auth, EducatorOnly())

	assert.Equal(t, http.StatusForbidden, serve(router, "/protected", "student").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, "/protected", "educator").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, "/protected", "admin").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	writer := &auditWriterStub{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u1"})
	})
	router.DELETE("/assets/*publicId", Audit(writer, nil, models.AuditActionAssetDelete, "asset", "publicId"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.DELETE("/fail/:id", Audit(writer, nil, models.AuditActionAssetDelete, "asset", "id"), func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/assets/lms/images/a1", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/fail/x", nil))

	if assert.Len(t, writer.logs, 1) {
		assert.Equal(t, "lms/images/a1", *writer.logs[0].ResourceID)
		assert.Equal(t, "u1", *writer.logs[0].UserID)
	}
}
