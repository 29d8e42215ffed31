package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/gateway"
)

// Admin exposes read-only route state for operations and debugging.
type Admin struct {
	gw *gateway.Gateway
}

// NewAdmin constructs the admin handler.
func NewAdmin(gw *gateway.Gateway) *Admin {
	return &Admin{gw: gw}
}

// Router builds the chi router for the admin surface.
func (a *Admin) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/routes/{routeID}", a.getRoute)
	return r
}

func (a *Admin) getRoute(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	if routeID == "" {
		http.Error(w, "missing route id", http.StatusBadRequest)
		return
	}
	snap, ok := a.gw.RouteSnapshot(routeID)
	if !ok {
		http.Error(w, "route not tracked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
