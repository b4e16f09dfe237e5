package walletconnect

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
)

var bridgeRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomBridgeURL picks one of the public v1 bridges.
func RandomBridgeURL() string {
	c := alphanumerical[bridgeRand.Intn(len(alphanumerical))]
	return fmt.Sprintf(bridgeURLFormat, string(c))
}

// webSocketURL turns https://bridge into wss://bridge?protocol=wc&version=1.
func webSocketURL(bridgeURL, protocol, version string) string {
	u := bridgeURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "go")
	return u + sep + q.Encode()
}

// extractRootDomain returns "walletconnect.org" for "https://a.bridge.walletconnect.org/x".
func extractRootDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	host := rawURL
	if err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
