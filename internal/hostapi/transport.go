package hostapi

import (
	"fmt"
	"net/http"
	"net/url"
)

// NewTransport returns the transport used to reach the daemon. proxy
// overrides the HTTP_PROXY/HTTPS_PROXY/NO_PROXY environment when set.
func NewTransport(proxy string) (*http.Transport, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyFromEnvironment
	if proxy == "" {
		return t, nil
	}
	u, err := url.Parse(proxy)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", proxy)
	}
	t.Proxy = http.ProxyURL(u)
	return t, nil
}
