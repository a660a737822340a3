package sandbox

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentrt/core/internal/domain/skill"
)

// NetProxy is the loopback HTTP(S) forward proxy a skill's sandboxed
// process is given as its only route to the network when its manifest
// declares skill.NetworkLoopbackProxy.
// It listens on 127.0.0.1 on an OS-assigned port and enforces the
// manifest's AllowNetworkDomains/DenyNetworkDomains before forwarding.
type NetProxy struct {
	mu       sync.RWMutex
	listener net.Listener
	server   *http.Server
	allow    []string
	deny     []string
	logger   *zap.Logger
}

// NewNetProxy binds a loopback listener and returns a NetProxy ready to
// Serve, scoped to the given manifest's domain lists.
func NewNetProxy(m skill.Manifest, logger *zap.Logger) (*NetProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("netproxy listen: %w", err)
	}
	p := &NetProxy{
		listener: ln,
		allow:    m.AllowNetworkDomains,
		deny:     m.DenyNetworkDomains,
		logger:   logger,
	}
	p.server = &http.Server{Handler: http.HandlerFunc(p.handle)}
	return p, nil
}

// Port is the OS-assigned loopback port the sandboxed process should be
// told to use as HTTP_PROXY/HTTPS_PROXY.
func (p *NetProxy) Port() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Serve runs the proxy until ctx is cancelled. Call this in a goroutine;
// cancelling ctx closes the listener and unblocks the caller.
func (p *NetProxy) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = p.server.Close()
	}()
	err := p.server.Serve(p.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (p *NetProxy) handle(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if r.Method == http.MethodConnect {
		host = r.URL.Host
	}
	domain := hostOnly(host)

	if !p.domainAllowed(domain) {
		p.logger.Warn("netproxy denied domain", zap.String("domain", domain))
		http.Error(w, fmt.Sprintf("domain %q not permitted by skill network policy", domain), http.StatusForbidden)
		return
	}

	if r.Method == http.MethodConnect {
		p.serveConnect(w, r)
		return
	}

	target := &url.URL{Scheme: "http", Host: host}
	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ServeHTTP(w, r)
}

// serveConnect tunnels HTTPS requests (CONNECT host:443) by splicing the
// client connection to a dialed connection to the real destination —
// content stays opaque to the proxy, only the destination host is
// policy-checked.
func (p *NetProxy) serveConnect(w http.ResponseWriter, r *http.Request) {
	destConn, err := net.Dial("tcp", r.URL.Host)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer destConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy does not support hijacking", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))

	done := make(chan struct{}, 2)
	go func() { copyAndSignal(destConn, clientConn, done) }()
	go func() { copyAndSignal(clientConn, destConn, done) }()
	<-done
}

func copyAndSignal(dst net.Conn, src net.Conn, done chan<- struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	done <- struct{}{}
}

// domainAllowed applies deny first (more specific refusals win), then
// falls back to an empty allow list meaning "allow everything not denied".
func (p *NetProxy) domainAllowed(domain string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, d := range p.deny {
		if domainMatches(domain, d) {
			return false
		}
	}
	if len(p.allow) == 0 {
		return true
	}
	for _, a := range p.allow {
		if domainMatches(domain, a) {
			return true
		}
	}
	return false
}

// domainMatches treats pattern as a suffix match so "api.example.com"
// matches a pattern of "example.com".
func domainMatches(domain, pattern string) bool {
	domain = strings.ToLower(domain)
	pattern = strings.ToLower(pattern)
	return domain == pattern || strings.HasSuffix(domain, "."+pattern)
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
