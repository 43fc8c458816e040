package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type LoginRequest struct {
	Key string `json:"key"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	authConfig := s.manager.Config().API.Auth
	role := ""
	valid := false
	for _, u := range authConfig.Users {
		if u.Key == req.Key {
			valid = true
			role = u.Role
			break
		}
	}
	if !valid {
		respondError(w, http.StatusUnauthorized, "Invalid API Key")
		return
	}

	if authConfig.JWTSecret == "" {
		respondError(w, http.StatusInternalServerError, "JWT Secret not configured")
		return
	}

	expiresAt := time.Now().Add(24 * time.Hour).Unix()
	claims := jwt.MapClaims{
		"sub":  req.Key,
		"role": role,
		"exp":  expiresAt,
		"iat":  time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(authConfig.JWTSecret))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to sign token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:     tokenString,
		ExpiresAt: expiresAt,
	})
}
