package handlers

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// Upstream is the backend origin, e.g. http://localhost:5001.
	Upstream string
	// Timeout bounds the wait for upstream response headers. Streaming
	// bodies are not cut by it.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    logrus.FieldLogger
}

type Handler struct {
	upstream *url.URL
	client   *http.Client
	log      logrus.FieldLogger
}

func NewHandler(opts Options) (*Handler, error) {
	u, err := url.Parse(strings.TrimRight(opts.Upstream, "/"))
	if err != nil {
		return nil, err
	}
	rt := opts.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			ResponseHeaderTimeout: opts.Timeout,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		upstream: u,
		client: &http.Client{
			Transport: rt,
			// pass redirects through unchanged
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log,
	}, nil
}
