package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChecker struct {
	result  Result
	orgID   string
	feature string
}

func (s *stubChecker) Check(_ context.Context, orgID, feature string) Result {
	s.orgID = orgID
	s.feature = feature
	return s.result
}

func serve(checker Checker) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/orgs/:org_id/export", RequireFeature(checker, "reports.export"), func(c *gin.Context) {
		res, ok := GetResult(c)
		c.JSON(http.StatusOK, gin.H{"ok": ok, "plan": res.Plan})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-9/export", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRequireFeature_Allowed(t *testing.T) {
	checker := &stubChecker{result: Result{Allowed: true, Plan: "pro"}}

	w := serve(checker)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok": true, "plan": "pro"}`, w.Body.String())
	assert.Equal(t, "org-9", checker.orgID)
}

func TestRequireFeature_Denied(t *testing.T) {
	checker := &stubChecker{result: Result{
		Allowed:   false,
		Reason:    entitlement.ReasonNotInPlan,
		UpgradeTo: []string{"pro", "max"},
		Plan:      "starter",
	}}

	w := serve(checker)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	var body DeniedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FEATURE_UNAVAILABLE", body.Code)
	assert.Equal(t, entitlement.ReasonNotInPlan, body.Reason)
	assert.Equal(t, []string{"pro", "max"}, body.UpgradeTo)
	assert.NotContains(t, w.Body.String(), "starter")
}

func TestRequireFeature_SystemError(t *testing.T) {
	checker := &stubChecker{result: systemError()}

	w := serve(checker)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error": "service temporarily unavailable", "code": "SERVICE_UNAVAILABLE"}`, w.Body.String())
}

func serveParam(checker Checker) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/orgs/:org_id/usage/:feature/consume", RequireFeatureParam(checker, "feature"), func(c *gin.Context) {
		res, _ := GetResult(c)
		c.JSON(http.StatusOK, gin.H{"reason": res.Reason})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orgs/org-9/usage/ai.analyst/consume", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRequireFeatureParam(t *testing.T) {
	t.Run("reads the feature from the path", func(t *testing.T) {
		checker := &stubChecker{result: Result{Allowed: true}}

		w := serveParam(checker)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "org-9", checker.orgID)
		assert.Equal(t, "ai.analyst", checker.feature)
	})

	t.Run("exhausted allowance reaches the handler", func(t *testing.T) {
		checker := &stubChecker{result: Result{Reason: entitlement.ReasonAllowanceExceeded, UpgradeTo: []string{"max"}}}

		w := serveParam(checker)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"reason": "allowance-exceeded"}`, w.Body.String())
	})

	t.Run("feature outside the plan is denied", func(t *testing.T) {
		checker := &stubChecker{result: Result{Reason: entitlement.ReasonNotInPlan, UpgradeTo: []string{"pro"}}}

		w := serveParam(checker)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Contains(t, w.Body.String(), `"reason":"not-in-plan"`)
	})

	t.Run("system error is unavailable", func(t *testing.T) {
		w := serveParam(&stubChecker{result: systemError()})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
