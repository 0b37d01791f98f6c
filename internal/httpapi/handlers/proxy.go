package handlers

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/VINIA6/CHATAI/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var forwardedHeaders = []string{"Authorization", "Content-Type", "Accept", "Accept-Language", middleware.RequestIDHeader}

// response headers owned by this hop
var skippedResponseHeaders = map[string]bool{
	"Connection":                   true,
	"Keep-Alive":                   true,
	"Transfer-Encoding":            true,
	"Content-Length":               true,
	"Access-Control-Allow-Origin":  true,
	"Access-Control-Allow-Methods": true,
	"Access-Control-Allow-Headers": true,
}

func proxyFail(c *gin.Context, status int, title, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   title,
		"message": msg,
	})
}

// Proxy forwards /api/*path to the same path on the upstream and copies the
// response back as it arrives.
func (h *Handler) Proxy(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusOK)
		return
	}

	target := *h.upstream
	target.Path = h.upstream.Path + "/api" + c.Param("path")
	target.RawQuery = c.Request.URL.RawQuery

	var body io.Reader
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		body = c.Request.Body
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), body)
	if err != nil {
		proxyFail(c, http.StatusInternalServerError, "Proxy Error", err.Error())
		return
	}
	for _, k := range forwardedHeaders {
		if v := c.GetHeader(k); v != "" {
			req.Header.Set(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.ContentLength = c.Request.ContentLength

	log := h.log.WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFrom(c),
		"method":     req.Method,
		"target":     target.Path,
	})

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.WithError(err).Warn("upstream timeout")
			proxyFail(c, http.StatusGatewayTimeout, "Gateway Timeout",
				"The backend took too long to respond. Please try again.")
			return
		}
		log.WithError(err).Error("upstream request failed")
		proxyFail(c, http.StatusInternalServerError, "Proxy Error", err.Error())
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if skippedResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	if err := copyFlushing(c.Writer, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("copy upstream body")
	}
	log.WithField("status", resp.StatusCode).Debug("proxied")
}

// copyFlushing copies src to w, flushing after every read so event streams
// reach the client chunk by chunk.
func copyFlushing(w gin.ResponseWriter, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
