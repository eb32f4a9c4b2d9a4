// Package netwatch supervises the agent's connectivity: reachability
// probing, bounded retries, and the reconnection watchdog.
package netwatch

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var defaultFallbackHosts = []string{
	"www.google.com",
	"1.1.1.1",
	"8.8.8.8",
	"www.cloudflare.com",
	"www.bing.com",
}

// Probe answers "is the internet reachable": a DNS lookup first, then
// sequential HTTPS HEAD requests to fallback hosts, first success wins.
type Probe struct {
	logger        *zap.Logger
	resolver      *net.Resolver
	client        *http.Client
	fallbackHosts []string
	timeout       time.Duration

	mu         sync.Mutex
	lastOnline time.Time
}

func NewProbe(timeout time.Duration, logger *zap.Logger) *Probe {
	return &Probe{
		logger:        logger,
		resolver:      net.DefaultResolver,
		client:        &http.Client{Timeout: timeout},
		fallbackHosts: defaultFallbackHosts,
		timeout:       timeout,
		lastOnline:    time.Now(),
	}
}

// Online reports current reachability and refreshes the last-online mark.
func (p *Probe) Online(ctx context.Context) bool {
	if p.checkDNS(ctx) || p.checkHTTPFallback(ctx) {
		p.mu.Lock()
		p.lastOnline = time.Now()
		p.mu.Unlock()
		return true
	}
	return false
}

// OfflineDuration returns how long the probe has not seen the internet.
func (p *Probe) OfflineDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastOnline)
}

func (p *Probe) checkDNS(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.resolver.LookupHost(ctx, "google.com")
	if err != nil {
		p.logger.Warn("DNS check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Probe) checkHTTPFallback(ctx context.Context) bool {
	for _, host := range p.fallbackHosts {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+host, nil)
		if err != nil {
			continue
		}
		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Debug("HTTP check failed", zap.String("host", host), zap.Error(err))
			continue
		}
		resp.Body.Close()
		p.logger.Debug("HTTP check succeeded", zap.String("host", host))
		return true
	}
	p.logger.Warn("All HTTP fallback checks failed")
	return false
}
