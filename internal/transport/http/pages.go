package httptransport

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"facecam-server/internal/platform/config"
	"facecam-server/internal/utils"
)

const faviconContentType = "image/vnd.microsoft.icon"

// PageHandler serves the landing page and the favicon.
type PageHandler struct {
	indexPath   string
	faviconPath string
	logger      *utils.Logger
}

func NewPageHandler(web config.WebConfig, logger *utils.Logger) *PageHandler {
	index := web.Index
	if index == "" {
		index = "index.html"
	}
	favicon := web.Favicon
	if favicon == "" {
		favicon = filepath.Join("static", "favicon.ico")
	}
	return &PageHandler{
		indexPath:   filepath.Join(web.StaticDir, index),
		faviconPath: filepath.Join(web.StaticDir, favicon),
		logger:      logger,
	}
}

// RegisterRoutes mounts / and /favicon.ico.
func (h *PageHandler) RegisterRoutes(router *Router) {
	router.Root.GET("/", h.Index)
	router.Root.GET("/favicon.ico", h.Favicon)
}

func (h *PageHandler) Index(c *gin.Context) {
	h.serve(c, h.indexPath, "text/html; charset=utf-8")
}

func (h *PageHandler) Favicon(c *gin.Context) {
	h.serve(c, h.faviconPath, faviconContentType)
}

// serve streams path through http.ServeFile, which handles conditional and
// range requests. The explicit Content-Type wins over extension sniffing.
func (h *PageHandler) serve(c *gin.Context, path, contentType string) {
	if st, err := os.Stat(path); err != nil || !st.Mode().IsRegular() {
		h.logger.WarnTag("HTTP", "cannot serve %s: %v", path, err)
		RespondError(c, http.StatusNotFound, "file not found", nil)
		return
	}
	c.Header("Content-Type", contentType)
	c.File(path)
}
