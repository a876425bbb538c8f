package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// zeroSHA is the "after" value forges send when a branch is deleted.
const zeroSHA = "0000000000000000000000000000000000000000"

// pushPayload covers the fields shared by GitHub and Gitea/Forgejo push
// payloads; the rest of the body is ignored.
type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		HTMLURL  string `json:"html_url"`
		FullName string `json:"full_name"`
	} `json:"repository"`
	Pusher struct {
		Name     string `json:"name"`     // GitHub
		Login    string `json:"login"`    // Gitea
		Username string `json:"username"` // Gitea (older)
	} `json:"pusher"`
	Deleted bool `json:"deleted"`
}

// ParseWebhook decodes a forge push webhook body into a Push event.
// Branch deletions are rejected; tag pushes parse fine but report
// IsBranchPush() == false, letting the caller drop them.
func ParseWebhook(forge Forge, body []byte) (Push, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Push{}, fmt.Errorf("decode %s push payload: %w", forge, err)
	}
	if payload.Ref == "" {
		return Push{}, fmt.Errorf("%s payload has no ref", forge)
	}
	if payload.Repository.CloneURL == "" {
		return Push{}, fmt.Errorf("%s payload has no repository.clone_url", forge)
	}
	if payload.Deleted || payload.After == zeroSHA {
		return Push{}, fmt.Errorf("ref %s was deleted", payload.Ref)
	}

	pusher := payload.Pusher.Name
	if pusher == "" {
		pusher = payload.Pusher.Login
	}
	if pusher == "" {
		pusher = payload.Pusher.Username
	}

	return Push{
		Forge:      forge,
		Repo:       payload.Repository.CloneURL,
		Ref:        payload.Ref,
		SHA:        payload.After,
		Pusher:     pusher,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// ForgeFromHeaders sniffs the sending forge from webhook request headers.
// Forgejo sends both its own and the Gitea header, so Forgejo/Gitea are
// checked before GitHub (Gitea also mimics X-GitHub-Event).
func ForgeFromHeaders(h http.Header) (Forge, bool) {
	if h.Get("X-Forgejo-Event") != "" || h.Get("X-Gitea-Event") != "" {
		return ForgeForgejo, true
	}
	if h.Get("X-GitHub-Event") != "" {
		return ForgeGitHub, true
	}
	return "", false
}

// EventType returns the forge event name from the request headers
// ("push", "ping", ...), normalized to lower case.
func EventType(h http.Header) string {
	for _, header := range []string{"X-Forgejo-Event", "X-Gitea-Event", "X-GitHub-Event"} {
		if v := h.Get(header); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
