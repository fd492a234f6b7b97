package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/chatbot/internal/config"
	"github.com/ent0n29/chatbot/internal/evidence"
)

const readinessDialTimeout = 250 * time.Millisecond

type readinessCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type readinessResponse struct {
	Ready  bool             `json:"ready"`
	Mode   string           `json:"mode"`
	Checks []readinessCheck `json:"checks"`
}

// handleReady reports each dependency. Only an unreachable model backend in
// llm mode makes the service unready; history and evidence stores degrade.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make([]readinessCheck, 0, 3)
	ready := true

	modelCheck := s.modelCheck()
	if modelCheck.Status == "error" {
		ready = false
	}
	checks = append(checks, modelCheck)

	if s.deps.History != nil {
		if s.deps.History.Connect(r.Context()).Live() {
			checks = append(checks, readinessCheck{
				ID:     "history_store",
				Status: "ok",
				Label:  "Conversation memory",
				Detail: "connected",
			})
		} else {
			checks = append(checks, readinessCheck{
				ID:     "history_store",
				Status: "warn",
				Label:  "Conversation memory",
				Detail: "unavailable",
				Fix:    "Set REDIS_URL to a reachable redis server to keep conversation history.",
			})
		}
	}

	if s.deps.Evidence != nil {
		bundle := s.deps.Evidence.Retrieve(r.Context(), "")
		check := readinessCheck{
			ID:     "evidence_store",
			Status: "ok",
			Label:  "Evidence store",
			Detail: string(bundle.Status),
		}
		if bundle.Status != evidence.StatusOK {
			check.Status = "warn"
			check.Detail = fmt.Sprintf("%s: %s", bundle.Status, bundle.Reason)
			if bundle.Status == evidence.StatusDisabled {
				check.Fix = "Set DATABASE_URL to enable grounded answers."
			}
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, readinessResponse{
		Ready:  ready,
		Mode:   s.cfg.Mode,
		Checks: checks,
	})
}

func (s *Server) modelCheck() readinessCheck {
	if s.cfg.Mode != config.ModeLLM {
		return readinessCheck{
			ID:     "model_backend",
			Status: "ok",
			Label:  "Model backend",
			Detail: "not used in " + s.cfg.Mode + " mode",
		}
	}
	if err := dialBaseURL(s.cfg.ModelBaseURL); err != nil {
		return readinessCheck{
			ID:     "model_backend",
			Status: "error",
			Label:  "Model backend",
			Detail: "unreachable: " + err.Error(),
			Fix:    "Start the model server or point VLLM_BASE at it.",
		}
	}
	return readinessCheck{
		ID:     "model_backend",
		Status: "ok",
		Label:  "Model backend",
		Detail: s.cfg.ModelID,
	}
}

func dialBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, readinessDialTimeout)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
