// Package diagnostics exposes a buffer.PoolManager's live statistics as
// a small JSON HTTP endpoint, for operators inspecting a running
// storectl instance from outside the process.
package diagnostics

import (
	"encoding/json"
	"log"
	"net/http"

	"minikvstore/internal/buffer"
)

// statusHandler serves the pool's Stats snapshot as JSON.
type statusHandler struct {
	bpm *buffer.PoolManager
}

func (sh *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if sh.bpm == nil {
		http.Error(w, "buffer pool not initialized", http.StatusInternalServerError)
		return
	}

	stats := sh.bpm.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("diagnostics: error encoding status to JSON: %v", err)
		http.Error(w, "error encoding status", http.StatusInternalServerError)
	}
}

// StartServer registers a /status endpoint over bpm and starts serving
// it in a background goroutine. It returns immediately; a nil bpm or
// empty addr is a no-op.
func StartServer(bpm *buffer.PoolManager, addr string) {
	if bpm == nil {
		log.Println("diagnostics: buffer pool is nil, not starting server")
		return
	}
	if addr == "" {
		log.Println("diagnostics: no address specified, not starting server")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/status", &statusHandler{bpm: bpm})

	log.Printf("diagnostics: serving status on http://%s/status", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("diagnostics: server error: %v", err)
		}
	}()
}
