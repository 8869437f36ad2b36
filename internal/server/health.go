package server

import (
	"net/http"
	"time"
)

type healthCheck struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status        string                 `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	Version       string                 `json:"version"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Checks        map[string]healthCheck `json:"checks"`
}

// handleHealth is the liveness probe: cheap, no dependency calls.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheck{
		"application":   {Healthy: true, Message: "Application is running"},
		"configuration": s.configCheck(),
	}
	writeJSON(w, http.StatusOK, s.healthBody("healthy", "degraded", checks))
}

// handleReady is the readiness probe: verifies the session store answers and
// the collaborator credentials are present.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]healthCheck{
		"configuration": s.configCheck(),
	}

	var sessionStats any
	stats, err := s.sessions.Stats(r.Context())
	if err != nil {
		checks["session_store"] = healthCheck{Healthy: false, Message: "store unavailable: " + err.Error()}
	} else {
		checks["session_store"] = healthCheck{Healthy: true, Message: "store responding"}
		sessionStats = stats
	}

	body := struct {
		healthResponse
		Sessions any `json:"sessions,omitempty"`
	}{
		healthResponse: s.healthBody("ready", "not_ready", checks),
		Sessions:       sessionStats,
	}

	status := http.StatusOK
	if body.Status == "not_ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) configCheck() healthCheck {
	switch {
	case s.cfg.Twilio.AccountSID == "" || s.cfg.Twilio.AuthToken == "":
		return healthCheck{Healthy: false, Message: "Twilio credentials missing"}
	case s.cfg.OpenAI.APIKey == "":
		return healthCheck{Healthy: false, Message: "OpenAI API key missing"}
	}
	return healthCheck{Healthy: true, Message: "Configuration valid"}
}

func (s *Server) healthBody(okStatus, badStatus string, checks map[string]healthCheck) healthResponse {
	status := okStatus
	for _, c := range checks {
		if !c.Healthy {
			status = badStatus
			break
		}
	}
	return healthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Checks:        checks,
	}
}
