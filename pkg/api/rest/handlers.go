package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/greelink/greelink/pkg/client"
	"github.com/greelink/greelink/pkg/manager"
	"github.com/greelink/greelink/pkg/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	status := s.manager.Status()

	devices := make([]manager.DeviceState, 0, len(status.Devices))
	for _, dev := range status.Devices {
		devices = append(devices, dev)
	}
	respondJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var cfg manager.DeviceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if _, err := s.manager.AddDevice(cfg); err != nil {
		if errors.Is(err, manager.ErrDeviceExists) {
			respondError(w, http.StatusConflict, "Device already exists")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "added", "name": cfg.Name})
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	status, err := s.manager.StatusOf(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.manager.RemoveDevice(name); err != nil {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed", "name": name})
}

func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.manager.ConnectDevice(name); err != nil {
		switch {
		case errors.Is(err, manager.ErrDeviceNotFound):
			respondError(w, http.StatusNotFound, "Device not found")
		case errors.Is(err, manager.ErrNotStarted):
			respondError(w, http.StatusServiceUnavailable, "Manager not started")
		default:
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Connect failed: %v", err))
		}
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "connecting", "name": name})
}

func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.manager.DisconnectDevice(name); err != nil {
		if errors.Is(err, manager.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, "Device not found")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Disconnect failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "name": name})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var control client.DeviceControl
	if err := json.NewDecoder(r.Body).Decode(&control); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := s.manager.Control(r.Context(), name, &control); err != nil {
		switch {
		case errors.Is(err, manager.ErrDeviceNotFound):
			respondError(w, http.StatusNotFound, "Device not found")
		case errors.Is(err, client.ErrNotConnected):
			respondError(w, http.StatusServiceUnavailable, "Device not connected")
		default:
			var verr *rules.ValidationError
			if errors.As(err, &verr) {
				respondError(w, http.StatusUnprocessableEntity, verr.Error())
				return
			}
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("Control failed: %v", err))
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "sent", "name": name})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	session, err := s.manager.GetDevice(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}

	status := session.Client.Status()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     status.Mode,
		"features": session.Client.AvailableFeatures(),
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.manager.Discover(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Discovery failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, found)
}

func (s *Server) handleKnownDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.manager.KnownDevices()
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("Registry read failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
