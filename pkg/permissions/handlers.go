package permissions

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingops/wingops/pkg/observability"
)

// Handlers provides the HTTP surface for permission checks and rule
// management.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates permission handlers around the service.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers all permission routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission checking
	router.HandleFunc("/permissions/check", h.Check).Methods("POST")
	router.HandleFunc("/permissions/check-bulk", h.CheckBulk).Methods("POST")
	router.HandleFunc("/permissions/users/{id}/refresh", h.RefreshUser).Methods("POST")

	// Catalog and rule management
	router.HandleFunc("/permissions/catalog", h.GetCatalog).Methods("GET")
	router.HandleFunc("/permissions/basis-options/{type}", h.GetBasisOptions).Methods("GET")
	router.HandleFunc("/permissions/rules", h.ListRules).Methods("GET")
	router.HandleFunc("/permissions/rules", h.CreateRule).Methods("POST")
	router.HandleFunc("/permissions/rules/bulk", h.BulkCreateRules).Methods("POST")
	router.HandleFunc("/permissions/rules/{id}", h.UpdateRule).Methods("PUT")
	router.HandleFunc("/permissions/rules/{id}", h.DeleteRule).Methods("DELETE")

	// Observability
	router.HandleFunc("/permissions/cache/stats", h.CacheStats).Methods("GET")
}

type checkRequest struct {
	UserID     string   `json:"user_id"`
	Permission string   `json:"permission"`
	ScopeIDs   []string `json:"scope_ids,omitempty"`
}

// Check evaluates a single permission for a user
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Permission == "" {
		http.Error(w, "user_id and permission are required", http.StatusBadRequest)
		return
	}

	var checkCtx *CheckContext
	if len(req.ScopeIDs) > 0 {
		checkCtx = &CheckContext{ScopeIDs: req.ScopeIDs}
	}

	result := h.service.CheckPermission(r.Context(), req.UserID, req.Permission, checkCtx)
	writeJSON(w, http.StatusOK, result)
}

type checkBulkRequest struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	ScopeIDs    []string `json:"scope_ids,omitempty"`
}

// CheckBulk evaluates several permissions against one snapshot
func (h *Handlers) CheckBulk(w http.ResponseWriter, r *http.Request) {
	var req checkBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || len(req.Permissions) == 0 {
		http.Error(w, "user_id and permissions are required", http.StatusBadRequest)
		return
	}

	var checkCtx *CheckContext
	if len(req.ScopeIDs) > 0 {
		checkCtx = &CheckContext{ScopeIDs: req.ScopeIDs}
	}

	results := h.service.CheckMultiplePermissions(r.Context(), req.UserID, req.Permissions, checkCtx)
	writeJSON(w, http.StatusOK, results)
}

// RefreshUser forces invalidate-then-recompute for one user
func (h *Handlers) RefreshUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := h.service.RefreshUserPermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetCatalog returns the permission catalog grouped by category
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	grouped, err := h.service.GetGroupedPermissions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

// GetBasisOptions lists selectable basis instances for the rule editor
func (h *Handlers) GetBasisOptions(w http.ResponseWriter, r *http.Request) {
	basisType := BasisType(mux.Vars(r)["type"])

	options, err := h.service.GetBasisOptions(r.Context(), basisType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// ListRules lists permission rules, optionally filtered by basis type
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	var basisType *BasisType
	if bt := r.URL.Query().Get("basis_type"); bt != "" {
		t := BasisType(bt)
		if !t.Valid() {
			http.Error(w, "unknown basis type", http.StatusBadRequest)
			return
		}
		basisType = &t
	}

	rules, err := h.service.GetPermissionRules(r.Context(), basisType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreateRule creates a permission rule
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var input RuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.CreatePermissionRule(r.Context(), input, observability.GetPilotID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule applies a partial update to a rule
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.UpdatePermissionRule(r.Context(), id, update)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.service.DeletePermissionRule(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkCreateRequest struct {
	Rules []RuleInput `json:"rules"`
}

// BulkCreateRules inserts a batch of rules
func (h *Handlers) BulkCreateRules(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Rules) == 0 {
		http.Error(w, "rules are required", http.StatusBadRequest)
		return
	}

	result, err := h.service.BulkCreatePermissionRules(r.Context(), req.Rules, observability.GetPilotID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if len(result.Created) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

// CacheStats exposes cache counters
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.CacheStats(r.Context()))
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.WithError(err).Error("permission request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
