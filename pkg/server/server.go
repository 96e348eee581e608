package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/config"
	"whatsapp-inbox/pkg/handlers"
)

const requestIDHeader = "X-Request-ID"

// NewRouter wires the handler's routes. gatherer backs /metrics.
func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Provider webhook
	router.HandleFunc("/webhook", handler.WebhookVerify).Methods("GET")
	router.HandleFunc("/webhook", handler.WebhookReceive).Methods("POST")

	// Operator API
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/customers", handler.ListCustomers).Methods("GET")
	api.HandleFunc("/customers/{id}/messages", handler.CustomerMessages).Methods("GET")
	api.HandleFunc("/customers/{id}/outgoing", handler.RecordOutgoing).Methods("POST")

	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(config *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(requestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"duration":   time.Since(start),
				"remote":     r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
