package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// SetupHttpMux serves checker on /health: 204 when healthy, otherwise 503 with the failures as the body.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/health", handler(checker))
}

func handler(checker Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := checker.Check(); err != nil {
			log.WithError(err).Warn("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte(err.Error())); err != nil {
				log.WithError(err).Error("Failed to write health check response")
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
