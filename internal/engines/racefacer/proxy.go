package racefacer

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// RelayTimeout is longer than the fallbacks to tolerate relay cold starts
	RelayTimeout    = 15 * time.Second
	FallbackTimeout = 8 * time.Second
)

// DefaultFallbacks are public pass-through proxies tried after the relay.
// Each is a prefix that the escaped target URL is appended to.
var DefaultFallbacks = []string{
	"https://api.allorigins.win/raw?url=",
	"https://corsproxy.io/?url=",
}

// Proxy is one entry of the fetch chain
type Proxy struct {
	Name    string
	Prefix  string
	Timeout time.Duration
}

// URLFor returns the URL that fetches target through the proxy. A proxy
// with an empty prefix fetches target directly.
func (p Proxy) URLFor(target string) string {
	if p.Prefix == "" {
		return target
	}
	return p.Prefix + url.QueryEscape(target)
}

// RelayProxy builds the chain entry for a relay serving GET ?url=<target>
func RelayProxy(relayURL string, timeout time.Duration) Proxy {
	prefix := strings.TrimSpace(relayURL)
	switch {
	case strings.HasSuffix(prefix, "url="):
	case strings.Contains(prefix, "?"):
		prefix += "&url="
	default:
		prefix += "?url="
	}
	if timeout <= 0 {
		timeout = RelayTimeout
	}
	return Proxy{Name: "relay", Prefix: prefix, Timeout: timeout}
}

// ProxyChain returns the relay followed by the fallbacks. Without a relay
// URL the chain starts at the first fallback; with neither the engine
// fetches directly.
func ProxyChain(relayURL string, fallbacks []string, relayTimeout, fallbackTimeout time.Duration) []Proxy {
	if fallbackTimeout <= 0 {
		fallbackTimeout = FallbackTimeout
	}

	var chain []Proxy
	if strings.TrimSpace(relayURL) != "" {
		chain = append(chain, RelayProxy(relayURL, relayTimeout))
	}
	for i, prefix := range fallbacks {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		chain = append(chain, Proxy{
			Name:    fmt.Sprintf("fallback-%d", i+1),
			Prefix:  prefix,
			Timeout: fallbackTimeout,
		})
	}
	if len(chain) == 0 {
		chain = append(chain, Proxy{Name: "direct", Timeout: FallbackTimeout})
	}
	return chain
}
