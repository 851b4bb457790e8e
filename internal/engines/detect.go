package engines

import (
	"fmt"
	"net/url"
	"strings"

	"live-timing/internal/models"
)

var apexMarkers = []string{"apex-timing", "apex_timing", "apextiming"}

// Detect picks the provider from the hostname of a race URL. A URL without a
// scheme is read as https.
func Detect(rawURL string) (models.Provider, error) {
	host := Hostname(rawURL)
	switch {
	case host == "":
		return "", fmt.Errorf("%w: no host in %q", ErrUnknownProvider, rawURL)
	case strings.Contains(host, "racefacer"):
		return models.ProviderRaceFacer, nil
	}
	for _, marker := range apexMarkers {
		if strings.Contains(host, marker) {
			return models.ProviderApex, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, host)
}

// Hostname returns the lower-cased host of rawURL, or "" when it has none
func Hostname(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
