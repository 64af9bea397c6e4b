// Package webhook exposes the HTTP trigger surface: a signed POST endpoint
// that hands request bodies to a handler exactly once.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"cortexos/internal/logging"
)

// SignatureHeader carries the HMAC-SHA256 digest of the raw request body.
const SignatureHeader = "x-signature-256"

// Handler receives one accepted webhook delivery.
type Handler func(webhookID string, body []byte)

// Config describes one webhook endpoint.
type Config struct {
	Path    string // request path, e.g. /hooks/build
	Secret  string // HMAC key; empty disables signature checks
	Handler Handler
}

// Router builds the chi router serving the configured endpoints. Unknown
// paths 404; bad signatures 401 without invoking the handler.
func Router(configs ...Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	for _, cfg := range configs {
		cfg := cfg
		path := cfg.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		r.Post(path, func(w http.ResponseWriter, req *http.Request) {
			serve(w, req, cfg)
		})
	}
	return r
}

func serve(w http.ResponseWriter, req *http.Request, cfg Config) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if cfg.Secret != "" {
		if !verifySignature(cfg.Secret, body, req.Header.Get(SignatureHeader)) {
			logging.WebhookWarn("rejected delivery on %s: bad signature", cfg.Path)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	webhookID := uuid.NewString()
	if cfg.Handler != nil {
		cfg.Handler(webhookID, body)
	}
	logging.WebhookDebug("accepted delivery %s on %s (%d bytes)", webhookID, cfg.Path, len(body))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accepted":  true,
		"webhookId": webhookID,
	})
}

// verifySignature checks an "sha256=<hex>" digest over the raw body in
// constant time.
func verifySignature(secret string, body []byte, header string) bool {
	digest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	provided, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign renders the signature header value for a body, used by clients and
// tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
