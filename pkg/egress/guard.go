package egress

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avivsinai/telclaude-sub003/pkg/audit"
)

// ErrorCode is a categorical egress failure, per spec.md §7.
type ErrorCode string

const (
	ErrMetadataBlocked  ErrorCode = "metadata-blocked"
	ErrPrivateIPBlocked ErrorCode = "private-ip-blocked"
	ErrPortDenied       ErrorCode = "port-denied"
	ErrDNSFailed        ErrorCode = "dns-failed"
	ErrRedirectLoop     ErrorCode = "redirect-loop"
	ErrTooManyRedirects ErrorCode = "too-many-redirects"
	ErrSchemeDenied     ErrorCode = "scheme-denied"
)

// GuardError wraps a categorical egress rejection.
type GuardError struct {
	Code ErrorCode
	URL  string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("egress: %s blocked: %s", e.Code, e.URL)
}

func blockErr(code ErrorCode, u string) error { return &GuardError{Code: code, URL: u} }

// FetchOptions configures one Fetch call.
type FetchOptions struct {
	MaxRedirects int // 1..3; zero, negative or larger values mean 3
	Timeout      time.Duration
	Method       string
	Body         io.Reader
	Headers      http.Header

	// AuditActor identifies the caller on record (e.g. "agent:tier:readonly")
	// attributed to any block recorded from this fetch.
	AuditActor string
}

// Guard is the DNS-pinned SSRF-safe fetcher. Grounded on
// edgelesssys-privatemode-public/internal/gpl/forwarder/forwarder.go's
// http.Transport.DialContext override (the teacher repo itself has no DNS
// pinning mechanism).
type Guard struct {
	Allowlist *Allowlist
	Resolver  *net.Resolver
	Auditor   audit.Log // optional; nil disables audit recording of blocks
}

// NewGuard constructs a Guard over the given allowlist (nil/empty means no
// allowlist restriction beyond the non-overridable blocks).
func NewGuard(allowlist *Allowlist) *Guard {
	return &Guard{Allowlist: allowlist, Resolver: net.DefaultResolver}
}

func (g *Guard) recordBlock(ctx context.Context, actor, target string, code ErrorCode) {
	if g.Auditor == nil {
		return
	}
	_, _ = g.Auditor.Append(ctx, actor, "egress.blocked", map[string]any{
		"url":  target,
		"code": string(code),
	})
}

// Release idempotently tears down a fetch's resources.
type Release func()

// Fetch performs the guarded request, following redirects manually up to
// opts.MaxRedirects, re-running the full check/pin/dial algorithm on every
// hop.
func (g *Guard) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*http.Response, string, Release, error) {
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 || maxRedirects > 3 {
		maxRedirects = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	released := false
	release := Release(func() {
		if !released {
			released = true
			cancel()
		}
	})

	visited := map[string]bool{}
	currentURL := rawURL
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	for hop := 0; ; hop++ {
		if visited[currentURL] {
			release()
			g.recordBlock(ctx, opts.AuditActor, currentURL, ErrRedirectLoop)
			return nil, currentURL, release, blockErr(ErrRedirectLoop, currentURL)
		}
		visited[currentURL] = true

		if hop > maxRedirects {
			release()
			g.recordBlock(ctx, opts.AuditActor, currentURL, ErrTooManyRedirects)
			return nil, currentURL, release, blockErr(ErrTooManyRedirects, currentURL)
		}

		resp, client, err := g.fetchOnce(ctx, method, currentURL, opts)
		if err != nil {
			release()
			return nil, currentURL, release, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			client.CloseIdleConnections()
			if loc == "" {
				release()
				return nil, currentURL, release, fmt.Errorf("egress: redirect with no Location header")
			}
			next, err := url.Parse(loc)
			if err != nil {
				release()
				return nil, currentURL, release, fmt.Errorf("egress: invalid redirect location: %w", err)
			}
			base, _ := url.Parse(currentURL)
			currentURL = base.ResolveReference(next).String()
			method = http.MethodGet // redirects downgrade to GET, matching stdlib default semantics
			opts.Body = nil
			continue
		}

		return resp, currentURL, release, nil
	}
}

// fetchOnce runs the per-hop algorithm: parse, block-check, resolve,
// allowlist-check, pin, dial, issue.
func (g *Guard) fetchOnce(ctx context.Context, method, rawURL string, opts FetchOptions) (*http.Response, *http.Client, error) {
	blocked := func(code ErrorCode) error {
		g.recordBlock(ctx, opts.AuditActor, rawURL, code)
		return blockErr(code, rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("egress: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, blocked(ErrSchemeDenied)
	}

	host := u.Hostname()
	if isBlockedHost(host) {
		return nil, nil, blocked(ErrMetadataBlocked)
	}

	port, err := ParsePort(u.Port(), u.Scheme)
	if err != nil {
		return nil, nil, fmt.Errorf("egress: invalid port: %w", err)
	}

	var addrs []net.IP
	if ip := net.ParseIP(host); ip != nil {
		addrs = []net.IP{ip}
	} else {
		ipAddrs, err := g.Resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, nil, blocked(ErrDNSFailed)
		}
		for _, a := range ipAddrs {
			addrs = append(addrs, a.IP)
		}
	}
	if len(addrs) == 0 {
		return nil, nil, blocked(ErrDNSFailed)
	}

	for _, ip := range addrs {
		if isBlockedAddr(ip) {
			return nil, nil, blocked(ErrMetadataBlocked)
		}
	}

	if g.Allowlist != nil && !g.Allowlist.Empty() {
		for _, ip := range addrs {
			if !g.Allowlist.MatchAddr(host, ip, port) {
				// Distinguish "right host, wrong port" from "wrong host"
				// so callers get the more specific spec.md §7 error code.
				if g.hostMatchesAnyEntry(host) {
					return nil, nil, blocked(ErrPortDenied)
				}
				return nil, nil, blocked(ErrPrivateIPBlocked)
			}
		}
	}

	pinned := addrs[0]
	dialAddr := net.JoinHostPort(pinned.String(), fmt.Sprintf("%d", port))

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := &net.Dialer{}
			return d.DialContext(ctx, network, dialAddr)
		},
	}
	client := &http.Client{
		Transport:     transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, opts.Body)
	if err != nil {
		client.CloseIdleConnections()
		return nil, nil, fmt.Errorf("egress: build request: %w", err)
	}
	req.Host = host
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		client.CloseIdleConnections()
		return nil, nil, fmt.Errorf("egress: request failed: %w", err)
	}
	return resp, client, nil
}

func (g *Guard) hostMatchesAnyEntry(host string) bool {
	if g.Allowlist == nil {
		return false
	}
	for _, e := range g.Allowlist.entries {
		if e.Host != "" && e.Host == host {
			return true
		}
	}
	return false
}
