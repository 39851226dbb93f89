package permissions

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingops/wingops/pkg/observability"
)

func newHandlersTest(t *testing.T) (*mux.Router, *fakeStore) {
	t.Helper()

	service, store, _, _ := newServiceTest(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	router := mux.NewRouter()
	NewHandlers(service, logger).RegisterRoutes(router)
	return router, store
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_Check(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisBillet, BasisID: strPtr("billet-co"), Active: true},
	}

	t.Run("granted", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/check", checkRequest{
			UserID:     "pilot-1",
			Permission: "view_roster",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var result CheckResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.True(t, result.HasPermission)
	})

	t.Run("denied", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/check", checkRequest{
			UserID:     "pilot-2",
			Permission: "view_roster",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var result CheckResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.False(t, result.HasPermission)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/check", checkRequest{UserID: "pilot-1"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/permissions/check", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_CheckBulk(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisAuthenticatedUser, Active: true},
	}

	rec := doJSON(t, router, "POST", "/permissions/check-bulk", checkBulkRequest{
		UserID:      "pilot-1",
		Permissions: []string{"view_roster", "admin_settings"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var results map[string]CheckResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))
	assert.True(t, results["view_roster"].HasPermission)
	assert.False(t, results["admin_settings"].HasPermission)
}

func TestHandlers_RefreshUser(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisAuthenticatedUser, Active: true},
	}

	rec := doJSON(t, router, "POST", "/permissions/users/pilot-1/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot UserPermissions
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.Equal(t, "pilot-1", snapshot.UserID)
	assert.True(t, snapshot.Grants["view_roster"].Granted)
}

func TestHandlers_GetCatalog(t *testing.T) {
	router, _ := newHandlersTest(t)

	rec := doJSON(t, router, "GET", "/permissions/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var grouped map[PermissionCategory][]AppPermission
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grouped))
	assert.Len(t, grouped[CategoryRoster], 1)
}

func TestHandlers_GetBasisOptions(t *testing.T) {
	router, _ := newHandlersTest(t)

	t.Run("known type", func(t *testing.T) {
		rec := doJSON(t, router, "GET", "/permissions/basis-options/billet", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var options []BasisOption
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&options))
		require.Len(t, options, 1)
		assert.Equal(t, "Commanding Officer", options[0].Name)
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := doJSON(t, router, "GET", "/permissions/basis-options/rank", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_ListRules(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisBillet, BasisID: strPtr("billet-co"), Active: true},
		{ID: "r2", PermissionID: "perm-roster", BasisType: BasisSquadron, BasisID: strPtr("sq-101"), Active: true},
	}

	t.Run("all rules", func(t *testing.T) {
		rec := doJSON(t, router, "GET", "/permissions/rules", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rules []PermissionRule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&rules))
		assert.Len(t, rules, 2)
	})

	t.Run("filtered by basis type", func(t *testing.T) {
		rec := doJSON(t, router, "GET", "/permissions/rules?basis_type=billet", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var rules []PermissionRule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&rules))
		require.Len(t, rules, 1)
		assert.Equal(t, "r1", rules[0].ID)
		assert.Equal(t, "Commanding Officer", rules[0].BasisName)
	})

	t.Run("invalid basis type", func(t *testing.T) {
		rec := doJSON(t, router, "GET", "/permissions/rules?basis_type=rank", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_CreateRule(t *testing.T) {
	router, _ := newHandlersTest(t)

	t.Run("created", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/rules", RuleInput{
			PermissionID: "perm-roster",
			BasisType:    BasisBillet,
			BasisID:      strPtr("billet-co"),
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var rule PermissionRule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&rule))
		assert.NotEmpty(t, rule.ID)
		assert.Equal(t, "Commanding Officer", rule.BasisName)
	})

	t.Run("validation failure", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/rules", RuleInput{
			PermissionID: "perm-roster",
			BasisType:    BasisBillet,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_UpdateRule(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisBillet, BasisID: strPtr("billet-co"), Active: true},
	}

	t.Run("updated", func(t *testing.T) {
		inactive := false
		rec := doJSON(t, router, "PUT", "/permissions/rules/r1", RuleUpdate{Active: &inactive})
		require.Equal(t, http.StatusOK, rec.Code)

		var rule PermissionRule
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&rule))
		assert.False(t, rule.Active)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doJSON(t, router, "PUT", "/permissions/rules/r-missing", RuleUpdate{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandlers_DeleteRule(t *testing.T) {
	router, store := newHandlersTest(t)
	store.rules = []PermissionRule{
		{ID: "r1", PermissionID: "perm-roster", BasisType: BasisBillet, BasisID: strPtr("billet-co"), Active: true},
	}

	rec := doJSON(t, router, "DELETE", "/permissions/rules/r1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, "DELETE", "/permissions/rules/r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_BulkCreateRules(t *testing.T) {
	router, _ := newHandlersTest(t)

	t.Run("partial success", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/rules/bulk", bulkCreateRequest{
			Rules: []RuleInput{
				{PermissionID: "perm-roster", BasisType: BasisBillet, BasisID: strPtr("billet-co")},
				{PermissionID: "perm-roster", BasisType: BasisSquadron},
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var result BulkCreateResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
		assert.Len(t, result.Created, 1)
		require.Len(t, result.Failed, 1)
		assert.Equal(t, 1, result.Failed[0].Index)
	})

	t.Run("nothing created", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/rules/bulk", bulkCreateRequest{
			Rules: []RuleInput{
				{PermissionID: "perm-roster", BasisType: BasisSquadron},
			},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		rec := doJSON(t, router, "POST", "/permissions/rules/bulk", bulkCreateRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_CacheStats(t *testing.T) {
	router, _ := newHandlersTest(t)

	rec := doJSON(t, router, "GET", "/permissions/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats CacheStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, uint64(1), stats.RuleVersion)
}
