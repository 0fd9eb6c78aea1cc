package oauth

import (
	"log"
	"net/http"
	"strings"

	"asanahooks/pkg/auth"
)

// StartHandler redirects users into the Asana authorize flow.
type StartHandler struct {
	Config        auth.ProviderConfig
	PublicBaseURL string
	Logger        *log.Logger
}

func (h *StartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = log.Default()
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Config.OAuthClientID == "" {
		http.Error(w, "asana client_id is required", http.StatusBadRequest)
		return
	}

	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" {
		state = randomState()
	}
	redirectURL := callbackURL(r, h.PublicBaseURL)
	setStateCookie(w, r, state)
	target := oauthConfig(h.Config, redirectURL).AuthCodeURL(state)
	logger.Printf("oauth start provider=%s redirect_uri=%s", provider, redirectURL)
	http.Redirect(w, r, target, http.StatusFound)
}
