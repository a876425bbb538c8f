package daemon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/wheelworks/internal/event"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// maxWebhookBody caps how much of a delivery is read. Push payloads are far
// below this.
const maxWebhookBody = 1 << 20

// webhookHandlers serves the forge-facing endpoints. One handler per forge
// plus a generic endpoint that detects the sender from its headers.
type webhookHandlers struct {
	daemon *Daemon
}

func newWebhookHandlers(d *Daemon) *webhookHandlers {
	return &webhookHandlers{daemon: d}
}

func (h *webhookHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook/github", h.handleGitHub)
	mux.HandleFunc("/webhook/gitea", h.handleGitea)
	mux.HandleFunc("/webhook", h.handleGeneric)
}

func (h *webhookHandlers) handleGitHub(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, event.ForgeGitHub)
}

func (h *webhookHandlers) handleGitea(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, event.ForgeForgejo)
}

// handleGeneric detects the forge from the delivery headers, for setups that
// point every forge at the same endpoint.
func (h *webhookHandlers) handleGeneric(w http.ResponseWriter, r *http.Request) {
	forge, ok := event.ForgeFromHeaders(r.Header)
	if !ok {
		wwerrors.WriteHTTP(w, wwerrors.New(wwerrors.CategoryValidation, wwerrors.SeverityWarning,
			"could not identify the sending forge from the request headers"))
		return
	}
	h.handle(w, r, forge)
}

func (h *webhookHandlers) handle(w http.ResponseWriter, r *http.Request, forge event.Forge) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		wwerrors.WriteHTTP(w, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityWarning,
			"read webhook body"))
		return
	}

	if secret := h.secretFor(forge); secret != "" {
		if !verifySignature(secret, body, signatureHeader(r, forge)) {
			slog.Warn("Webhook signature verification failed",
				slog.String("forge", string(forge)),
				logfields.RemoteAddr(r.RemoteAddr))
			wwerrors.WriteHTTP(w, wwerrors.New(wwerrors.CategoryAuth, wwerrors.SeverityWarning,
				"webhook signature verification failed"))
			return
		}
	}

	delivery := deliveryID(r)
	if et := event.EventType(r.Header); et != "push" {
		slog.Debug("Ignoring non-push webhook event",
			slog.String("forge", string(forge)), slog.String("event", et),
			slog.String("delivery", delivery))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	push, err := event.ParseWebhook(forge, body)
	if err != nil {
		slog.Debug("Webhook payload not runnable",
			slog.String("forge", string(forge)), slog.String("delivery", delivery),
			logfields.Error(err))
		wwerrors.WriteHTTP(w, wwerrors.Wrap(err, wwerrors.CategoryValidation, wwerrors.SeverityWarning,
			"parse webhook payload"))
		return
	}

	slog.Info("Webhook push received",
		slog.String("forge", string(forge)), slog.String("delivery", delivery),
		logfields.Repository(push.Repo), logfields.Branch(push.Branch()),
		logfields.SHA(push.ShortSHA()))

	runIDs, err := h.daemon.EnqueuePush(push, TriggerWebhook)
	if len(runIDs) == 0 {
		if err != nil {
			wwerrors.WriteHTTP(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		slog.Warn("Some matching workflows could not be enqueued", logfields.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"run_ids": runIDs})
}

func (h *webhookHandlers) secretFor(forge event.Forge) string {
	cfg := h.daemon.Config()
	if cfg.Daemon == nil {
		return ""
	}
	switch forge {
	case event.ForgeGitHub:
		return cfg.Daemon.Webhooks.GitHubSecret
	default:
		return cfg.Daemon.Webhooks.GiteaSecret
	}
}

// signatureHeader picks the signature the forge sent. GitHub uses
// X-Hub-Signature-256; Gitea and Forgejo use their own header but also mimic
// GitHub's, so that one doubles as a fallback.
func signatureHeader(r *http.Request, forge event.Forge) string {
	if forge == event.ForgeGitHub {
		return r.Header.Get("X-Hub-Signature-256")
	}
	if sig := r.Header.Get("X-Gitea-Signature"); sig != "" {
		return sig
	}
	if sig := r.Header.Get("X-Forgejo-Signature"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Hub-Signature-256")
}

// verifySignature checks an HMAC SHA-256 webhook signature. GitHub prefixes
// the hex digest with "sha256="; Gitea and Forgejo send the bare digest.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// deliveryID returns the forge's delivery identifier for log correlation.
// Legacy forges that send none get a generated one.
func deliveryID(r *http.Request) string {
	for _, h := range []string{"X-GitHub-Delivery", "X-Gitea-Delivery", "X-Forgejo-Delivery"} {
		if id := r.Header.Get(h); id != "" {
			return id
		}
	}
	return newDeliveryID()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}
