// Package rest provides the REST API server over the device manager.
package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greelink/greelink/pkg/api/middleware"
	"github.com/greelink/greelink/pkg/logger"
	"github.com/greelink/greelink/pkg/manager"
)

// Server represents the REST API server.
type Server struct {
	manager *manager.Manager
	log     *logger.Logger
	srv     *http.Server
	config  ServerConfig
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Port int
}

// NewServer creates a new REST API server.
func NewServer(mgr *manager.Manager, config ServerConfig) *Server {
	return &Server{
		manager: mgr,
		log:     logger.Global().With("component", "rest"),
		config:  config,
	}
}

// Start starts the API server.
func (s *Server) Start() error {
	r := mux.NewRouter()
	s.registerRoutes(r)

	authConfig := s.manager.Config().API.Auth
	if authConfig.Enabled {
		keys := make(map[string]string, len(authConfig.Users))
		for _, u := range authConfig.Users {
			keys[u.Key] = u.Role
		}
		auth := middleware.NewAPIKeyAuth(keys, authConfig.JWTSecret, []string{
			"/health",
			"/metrics",
			"/api/v1/login",
		})
		r.Use(auth.Handler)
		s.log.Info("API authentication enabled")
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	if s.config.Port == 0 {
		addr = ":8480"
	}

	s.srv = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	s.log.Info("API server listening", "address", addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(r *mux.Router) {
	// API v1
	v1 := r.PathPrefix("/api/v1").Subrouter()

	// System
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.manager.Config().Metrics.Enabled {
		endpoint := s.manager.Config().Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.Handle(endpoint, promhttp.Handler()).Methods("GET")
	}
	r.HandleFunc("/api/v1/login", s.handleLogin).Methods("POST") // Public endpoint
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Devices
	v1.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	v1.HandleFunc("/devices", s.handleAddDevice).Methods("POST")
	v1.HandleFunc("/devices/{name}", s.handleDeviceStatus).Methods("GET")
	v1.HandleFunc("/devices/{name}", s.handleRemoveDevice).Methods("DELETE")
	v1.HandleFunc("/devices/{name}/connect", s.handleConnectDevice).Methods("POST")
	v1.HandleFunc("/devices/{name}/disconnect", s.handleDisconnectDevice).Methods("POST")
	v1.HandleFunc("/devices/{name}/control", s.handleControl).Methods("POST")
	v1.HandleFunc("/devices/{name}/features", s.handleFeatures).Methods("GET")

	// Discovery
	v1.HandleFunc("/discover", s.handleDiscover).Methods("POST")
	v1.HandleFunc("/registry", s.handleKnownDevices).Methods("GET")
}
