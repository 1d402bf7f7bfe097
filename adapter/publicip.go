package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

// PublicIPProbe fetches the egress IP as seen by a public endpoint,
// optionally dialing through a local SOCKS5 port so the result reflects
// the tunnel's egress rather than the local machine's. Grounded on the
// reference implementation's fetch_public_ip, translated from a
// subprocess-free `requests` call into net/http + x/net/proxy since Go
// offers both as libraries rather than needing a shell-out.
type PublicIPProbe struct {
	client *http.Client
}

func NewPublicIPProbe(socksPort int) (*PublicIPProbe, error) {
	client := &http.Client{Timeout: 8 * time.Second}

	if socksPort > 0 {
		dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", socksPort), nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build SOCKS5 dialer: %w", err)
		}
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	}

	return &PublicIPProbe{client: client}, nil
}

type ipAPIResponse struct {
	Query   string `json:"query"`
	Country string `json:"country"`
	ISP     string `json:"isp"`
}

// Fetch returns the public IP as reported by ip-api.com, or "unknown"
// on any failure -- the probe is a diagnostic convenience, never a
// reason to fail the tunnel itself.
func (p *PublicIPProbe) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://ip-api.com/json", nil)
	if err != nil {
		return "unknown", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "unknown", err
	}
	defer resp.Body.Close()

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "unknown", err
	}
	if result.Query == "" {
		return "unknown", fmt.Errorf("empty IP in response")
	}
	return result.Query, nil
}
