// Package relay is the same-origin pass-through proxy the poll engine uses
// first. It fetches allow-listed provider URLs and returns them unchanged.
package relay

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"live-timing/internal/common/errors"
	commonhttp "live-timing/internal/common/http"
	"live-timing/internal/common/logging"
	"live-timing/internal/common/ratelimit"
)

var errRedirectNotAllowed = stderrors.New("redirect target is not allowed")

// Config configures a relay handler
type Config struct {
	AllowedHosts []string
	Timeout      time.Duration
	RateLimit    ratelimit.Config
	// TrustedProxies are IPs or CIDRs whose X-Forwarded-For is believed
	TrustedProxies []string
	// Transport overrides the upstream transport, mainly for tests
	Transport http.RoundTripper
}

// Handler relays GET ?url=<target> to allow-listed hosts
type Handler struct {
	allowed []string
	trusted []netip.Prefix
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  logging.Logger
}

// New creates a relay handler
func New(cfg Config, logger logging.Logger) (*Handler, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	allowed := make([]string, 0, len(cfg.AllowedHosts))
	for _, host := range cfg.AllowedHosts {
		host = strings.Trim(strings.ToLower(strings.TrimSpace(host)), ".")
		if host != "" {
			allowed = append(allowed, host)
		}
	}
	if len(allowed) == 0 {
		return nil, errors.ConfigError("relay needs at least one allowed host")
	}

	trusted, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLocalLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		allowed: allowed,
		trusted: trusted,
		limiter: limiter,
		logger:  logger.WithFields(logging.String("component", "relay")),
	}
	h.client = commonhttp.NewHTTPClient(
		commonhttp.WithTimeout(cfg.Timeout),
		commonhttp.WithTransport(cfg.Transport),
		commonhttp.WithCheckRedirect(h.checkRedirect),
	)
	return h, nil
}

// NewRouter serves the relay at / and /api/proxy, as the standalone relay
// binary does
func NewRouter(h *Handler, middlewares ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.Handle("/api/proxy", h).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.Handle("/", h).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// Allowed reports whether host is an allowed domain or one of its subdomains
func (h *Handler) Allowed(host string) bool {
	host = strings.Trim(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, domain := range h.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Stats returns rate limiter statistics
func (h *Handler) Stats() map[string]interface{} {
	return h.limiter.Stats()
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	header.Set("Cache-Control", "no-store")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.limiter.TryAcquireForKey(h.clientIP(r)) {
		header.Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Hostname() == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if !h.Allowed(target.Hostname()) {
		h.logger.Warn("Relay target rejected", logging.String("host", target.Hostname()))
		writeError(w, http.StatusForbidden, fmt.Sprintf("host %s is not allowed", target.Hostname()))
		return
	}

	upstreamHeader := http.Header{}
	if accept := r.Header.Get("Accept"); accept != "" {
		upstreamHeader.Set("Accept", accept)
	}

	resp, err := commonhttp.Get(r.Context(), h.client, target.String(), upstreamHeader)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case stderrors.Is(err, errRedirectNotAllowed):
			status = http.StatusForbidden
		case errors.IsType(err, errors.ErrTypeTimeout):
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("Relay upstream failed",
			logging.String("host", target.Hostname()),
			logging.Int("status", status),
			logging.Err(err),
		)
		writeError(w, status, "upstream request failed")
		return
	}

	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(resp.Body)
	}
}

// checkRedirect follows one redirect, and only to an allowed host
func (h *Handler) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > 1 {
		return http.ErrUseLastResponse
	}
	if !h.Allowed(req.URL.Hostname()) {
		return fmt.Errorf("%w: %s", errRedirectNotAllowed, req.URL.Hostname())
	}
	return nil
}

// clientIP keys the per-client bucket. X-Forwarded-For is only read when
// the peer is a trusted proxy; the chain is walked from the right and the
// first untrusted hop is the client.
func (h *Handler) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !h.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !h.isTrusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (h *Handler) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range h.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, errors.ConfigError(fmt.Sprintf("invalid trusted proxy %q", value))
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid trusted proxy %q", value))
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
