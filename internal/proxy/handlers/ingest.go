package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/config"
)

// cookiePayload is what the browser extension posts. Cookie names arrive
// either as the literal cookie keys or as snake_case aliases, depending on
// the extension version.
type cookiePayload struct {
	Alias     string            `json:"alias"`
	PSID      string            `json:"__Secure-1PSID"`
	PSIDAlt   string            `json:"secure_1psid"`
	PSIDTS    string            `json:"__Secure-1PSIDTS"`
	PSIDTSAlt string            `json:"secure_1psidts"`
	Proxy     string            `json:"proxy"`
	Headers   map[string]string `json:"headers"`
}

// CookiesHandler handles POST /api/cookies: the credential ingestion
// upsert fed by the browser extension.
func CookiesHandler(store accounts.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload cookiePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, "Invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}

		psid := payload.PSID
		if psid == "" {
			psid = payload.PSIDAlt
		}
		psidts := payload.PSIDTS
		if psidts == "" {
			psidts = payload.PSIDTSAlt
		}
		if payload.Alias == "" || psid == "" || psidts == "" {
			writeError(w, "Missing required fields: alias, __Secure-1PSID, __Secure-1PSIDTS", http.StatusBadRequest)
			return
		}

		created, err := store.Upsert(r.Context(), accounts.Record{
			Alias:   payload.Alias,
			PSID:    psid,
			PSIDTS:  psidts,
			Proxy:   payload.Proxy,
			Headers: payload.Headers,
		})
		if err != nil {
			writeError(w, "Credential store error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		action := "updated"
		if created {
			action = "created"
		}
		log.Printf("🍪 Received cookies for %s (%s)", payload.Alias, action)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"action": action,
			"account": map[string]interface{}{
				"alias":       payload.Alias,
				"has_headers": len(payload.Headers) > 0,
			},
		})
	}
}

// accountView is the admin listing shape; cookie values are masked since
// the listing exists for pool inspection, not credential export.
type accountView struct {
	Alias       string    `json:"alias"`
	Enabled     bool      `json:"enabled"`
	CallCount   int       `json:"call_count"`
	HasProxy    bool      `json:"has_proxy"`
	HasHeaders  bool      `json:"has_headers"`
	LastUsed    time.Time `json:"last_used"`
	LastUpdated time.Time `json:"last_updated"`
}

// AccountsListHandler handles GET /api/accounts.
func AccountsListHandler(store accounts.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := store.List(r.Context())
		if err != nil {
			writeError(w, "Credential store error: "+err.Error(), http.StatusInternalServerError)
			return
		}

		views := make([]accountView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, accountView{
				Alias:       rec.Alias,
				Enabled:     rec.Enabled,
				CallCount:   rec.CallCount,
				HasProxy:    rec.Proxy != "",
				HasHeaders:  len(rec.Headers) > 0,
				LastUsed:    rec.LastUsed,
				LastUpdated: rec.LastUpdated,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"count":    len(views),
			"accounts": views,
		})
	}
}

// ResetCountersHandler handles POST /api/accounts/reset: administrative
// rebalancing of the rotation counters.
func ResetCountersHandler(mgr *accounts.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.ResetCounters(r.Context()); err != nil {
			writeError(w, "Credential store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		log.Printf("🔄 Reset all account call counters")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// RootHandler handles GET / with service info.
func RootHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service": "gemini-relay",
			"store":   cfg.Store.Driver,
			"usage":   "Point the browser extension at POST /api/cookies; OpenAI clients at /v1",
		})
	}
}
