package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler, swaggerEnabled bool) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	if !swaggerEnabled {
		return
	}

	mux.HandleFunc("GET /openapi.yaml", handler.OpenAPI)
	mux.HandleFunc("GET /docs", handler.SwaggerUI)
	mux.HandleFunc("GET /docs/", handler.SwaggerUI)
}

func registerPublicRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /v1/matches", handler.ListMatches)
	mux.HandleFunc("GET /v1/matches/{source}/{externalMatchID}", handler.GetMatch)
	mux.HandleFunc("GET /v1/sync-runs", handler.ListSyncRuns)
	mux.HandleFunc("GET /v1/sync-runs/latest", handler.GetLatestSyncRun)
}

func registerInternalJobRoutes(mux *http.ServeMux, handler *Handler, internalJobToken string) {
	mux.Handle("POST /v1/internal/jobs/sync-source", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunSyncSourceJob)))
	mux.Handle("POST /v1/internal/jobs/sync-match", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunSyncMatchJob)))
	mux.Handle("POST /v1/internal/jobs/sync-all", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunSyncAllJob)))
	mux.Handle("POST /v1/internal/jobs/reconcile", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunReconcileJob)))
	mux.Handle("POST /v1/internal/jobs/repair-timestamps", RequireInternalJobToken(internalJobToken, http.HandlerFunc(handler.RunRepairTimestampsJob)))
}
