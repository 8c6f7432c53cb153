package assets

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/InsightCenterNoodles/Carbonara/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
)

// HTTPHost serves installed blobs over plain HTTP at /assets/<identity>
// and exposes the process metrics at /metrics.
type HTTPHost struct {
	log   utils.Logger
	blobs *xsync.MapOf[string, []byte]
	srv   *http.Server
	port  int
}

func NewHTTPHost(log utils.Logger, gatherer prometheus.Gatherer) *HTTPHost {
	h := &HTTPHost{
		log:   log,
		blobs: xsync.NewMapOf[string, []byte](),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/assets/:identity", h.serveBlob)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h.srv = &http.Server{Handler: engine}
	return h
}

// Listen binds the host; addr may use port 0 to let the OS pick.
func (h *HTTPHost) Listen(ctx context.Context, addr string) error {
	config := net.ListenConfig{}
	listener, err := config.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	h.port = listener.Addr().(*net.TCPAddr).Port
	h.log.Info("assets: serving", "addr", listener.Addr().String())

	go func() {
		if err := h.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("assets: server stopped", "err", err)
		}
	}()
	return nil
}

func (h *HTTPHost) Port() int {
	return h.port
}

func (h *HTTPHost) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}

func (h *HTTPHost) Install(identity string, data []byte) (Ref, error) {
	h.blobs.Store(identity, data)
	h.log.Debug("assets: installed", "identity", identity, "bytes", len(data))
	return Ref{Path: "/assets/" + identity, Port: h.port}, nil
}

func (h *HTTPHost) Remove(identity string) {
	h.blobs.Delete(identity)
	h.log.Debug("assets: removed", "identity", identity)
}

func (h *HTTPHost) serveBlob(c *gin.Context) {
	identity := c.Param("identity")
	data, ok := h.blobs.Load(identity)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, "application/octet-stream", data)
}
