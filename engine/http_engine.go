package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	defaultAcceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
	defaultTimeout        = 15 * time.Second
	defaultMaxBody        = 10 << 20
	maxRedirects          = 5
)

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	UserAgent      string
	AcceptLanguage string        // default: pt-BR first
	Timeout        time.Duration // default: 15s, per request
	MaxBodyBytes   int64         // default: 10 MiB
}

// HTTPEngine fetches marketplace pages over HTTP/1.1, presenting a
// Chrome ClientHello on TLS connections.
type HTTPEngine struct {
	client *http.Client
	opts   HTTPOptions
}

var (
	helloOnce sync.Once
	helloSpec *tls.ClientHelloSpec
)

// chromeHello returns the Chrome ClientHello with ALPN pinned to
// http/1.1, or nil when utls cannot build it. net/http cannot speak h2
// over a utls connection.
func chromeHello() *tls.ClientHelloSpec {
	helloOnce.Do(func() {
		spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
		if err != nil {
			return
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*tls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}
		helloSpec = &spec
	})
	return helloSpec
}

// NewHTTPEngine creates an HTTPEngine. Zero-valued options take defaults.
func NewHTTPEngine(opts HTTPOptions) *HTTPEngine {
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = defaultAcceptLanguage
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialTLSContext:      dialChrome,
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPEngine{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("http_engine: stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// dialChrome opens a TLS connection with the Chrome fingerprint, falling
// back to the stock utls Chrome preset when the pinned spec is unavailable.
func dialChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	raw, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)

	var conn *tls.UConn
	if spec := chromeHello(); spec != nil {
		conn = tls.UClient(raw, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := conn.ApplyPreset(spec); err != nil {
			raw.Close()
			return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
		}
	} else {
		conn = tls.UClient(raw, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}, tls.HelloChrome_Auto)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("http_engine: tls handshake with %s: %w", host, err)
	}
	return conn, nil
}

func (e *HTTPEngine) Name() string { return "http" }

// Fetch GETs req.URL. Error statuses and non-HTML responses are returned
// as *StatusError.
func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("http_engine: build request: %w", err)
	}
	h := httpReq.Header
	if e.opts.UserAgent != "" {
		h.Set("User-Agent", e.opts.UserAgent)
	}
	h.Set("Accept", defaultAccept)
	h.Set("Accept-Language", e.opts.AcceptLanguage)
	h.Set("Accept-Encoding", "identity")
	h.Set("Upgrade-Insecure-Requests", "1")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http_engine: get %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || (ct != "" && !isHTML(ct)) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode, ContentType: ct}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("http_engine: read body: %w", err)
	}

	// Servers that omit Content-Type get their body sniffed instead.
	if ct == "" {
		if sniffed := http.DetectContentType(body); !isHTML(sniffed) {
			return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode, ContentType: sniffed}
		}
	}

	return &FetchResult{
		HTML:       body,
		Title:      documentTitle(body),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// documentTitle returns the text of the first <title>, trimmed.
func documentTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			if name, _ := z.TagName(); atom.Lookup(name) == atom.Title {
				if z.Next() == html.TextToken {
					return strings.TrimSpace(string(z.Text()))
				}
				return ""
			}
		}
	}
}
