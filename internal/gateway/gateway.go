// Package gateway is the API edge: one reverse proxy in front of the four
// services, with rate limiting and request metrics applied before traffic
// fans out.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/example/ec-platform/internal/logging"
)

// Upstreams maps API prefixes to service base URLs.
type Upstreams struct {
	Auth    string
	Users   string
	Orders  string
	Product string
}

// New builds the gateway engine. Each prefix gets its own proxy so metrics
// are attributed per upstream.
func New(up Upstreams, limiter Limiter) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RateLimit(limiter))

	routes := []struct {
		name   string
		prefix string
		target string
	}{
		{"auth", "/api/auth", up.Auth},
		{"users", "/api/users", up.Users},
		{"orders", "/api/orders", up.Orders},
		{"products", "/api/products", up.Product},
	}
	for _, route := range routes {
		proxy, err := newProxy(route.name, route.target)
		if err != nil {
			return nil, err
		}
		handler := gin.WrapH(proxy)
		grp := r.Group(route.prefix, Metrics(route.name))
		grp.Any("", handler)
		grp.Any("/*path", handler)
	}

	r.GET("/metrics", MetricsHandler())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r, nil
}

// newProxy forwards to target, preserving the full /api path so upstream
// route tables stay identical with and without the gateway in front.
func newProxy(name, target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", name, err)
	}

	log := logging.New("proxy").With("upstream", name)
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream unreachable", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"status":"error","message":"upstream %s unavailable"}`, name)
	}
	return proxy, nil
}
