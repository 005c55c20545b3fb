package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
	"github.com/efebarandurmaz/rackscan/internal/service"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// Handlers serves the rack analysis API.
type Handlers struct {
	analyzer   *service.Analyzer
	metrics    *observability.Metrics
	importRoot string
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithImportRoot allows imports of paths beneath dir. Without it the import
// endpoint rejects every request.
func WithImportRoot(dir string) HandlerOption {
	return func(h *Handlers) { h.importRoot = dir }
}

// NewHandlers creates API handlers over an analyzer. metrics may be nil,
// in which case /metrics is not served.
func NewHandlers(a *service.Analyzer, metrics *observability.Metrics, opts ...HandlerOption) *Handlers {
	h := &Handlers{analyzer: a, metrics: metrics}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var (
	errImportsDisabled = errors.New("imports are disabled: server.import_root is not set")
	errOutsideRoot     = errors.New("path is outside the import root")
)

// resolveImportPath anchors p under root and resolves symlinks on both sides,
// so a link inside the root cannot point the import elsewhere. Relative paths
// are taken relative to root.
func resolveImportPath(root, p string) (string, error) {
	if root == "" {
		return "", errImportsDisabled
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		p = filepath.Join(dir, filepath.Base(p))
	}

	rel, err := filepath.Rel(absRoot, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return p, nil
}

// NewRouter builds the gin engine with recovery, request ids and all routes.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	v1 := router.Group("/v1")
	RegisterRoutes(v1, h)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	return router
}

// RegisterRoutes registers the /v1 endpoints:
//
//	GET    /racks
//	POST   /racks/import
//	POST   /racks/:id/analyze
//	GET    /racks/:id/compliance
//	GET    /racks/:id/hierarchy
//	GET    /racks/:id/chains/:chain_id
//	GET    /racks/:id/similar
//	GET    /compliance/report
//	POST   /compliance/bulk
//	DELETE /compliance/cache/:id
//	GET    /stats
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	racks := rg.Group("/racks")
	{
		racks.GET("", h.HandleListRacks)
		racks.POST("/import", h.HandleImport)
		racks.POST("/:id/analyze", h.HandleAnalyze)
		racks.GET("/:id/compliance", h.HandleCompliance)
		racks.GET("/:id/hierarchy", h.HandleHierarchy)
		racks.GET("/:id/chains/:chain_id", h.HandleChain)
		racks.GET("/:id/similar", h.HandleSimilar)
	}

	comp := rg.Group("/compliance")
	{
		comp.GET("/report", h.HandlePlatformReport)
		comp.POST("/bulk", h.HandleBulkValidate)
		comp.DELETE("/cache/:id", h.HandleInvalidate)
	}

	rg.GET("/stats", h.HandleStats)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := getOrCreateRequestID(c)
		c.Next()
		slog.Debug("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func handlerLogger(c *gin.Context, name string) *slog.Logger {
	return slog.With("request_id", c.Writer.Header().Get("X-Request-ID"), "handler", name)
}

// writeError maps domain errors to status codes.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	var (
		de *rackfile.DecompressionError
		pe *discovery.XMLParseError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, rackfile.ErrSourceUnavailable):
		status, code = http.StatusUnprocessableEntity, "SOURCE_UNAVAILABLE"
	case errors.As(err, &de):
		status, code = http.StatusUnprocessableEntity, "DECOMPRESSION_FAILED"
	case errors.As(err, &pe):
		status, code = http.StatusUnprocessableEntity, "PARSE_FAILED"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "error", err)
	resp := ErrorResponse{Error: msg, Code: "INVALID_REQUEST"}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

// HandleListRacks handles GET /v1/racks.
func (h *Handlers) HandleListRacks(c *gin.Context) {
	logger := handlerLogger(c, "HandleListRacks")
	ctx := c.Request.Context()
	st := h.analyzer.Store()

	racks, err := st.ListRacks(ctx)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	entries := make([]RackEntry, 0, len(racks))
	for _, r := range racks {
		e := RackEntry{Rack: r}
		s, err := st.LoadSummary(ctx, r.ID)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		if s != nil {
			e.Analyzed = true
			e.Complete = s.AnalysisComplete
			e.Compliant = s.ConstitutionalCompliant
			e.Chains = s.TotalChainsDetected
		}
		entries = append(entries, e)
	}
	c.JSON(http.StatusOK, RackListResponse{Racks: entries, Count: len(entries)})
}

// HandleImport handles POST /v1/racks/import. Paths must lie under the
// configured import root; a directory path registers every rack file
// beneath it.
func (h *Handlers) HandleImport(c *gin.Context) {
	logger := handlerLogger(c, "HandleImport")
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, logger, "path is required", err)
		return
	}

	path, err := resolveImportPath(h.importRoot, req.Path)
	if err != nil {
		badRequest(c, logger, "Import path rejected", err)
		return
	}

	ctx := c.Request.Context()
	info, err := os.Stat(path)
	if err != nil {
		writeError(c, logger, errors.Join(rackfile.ErrSourceUnavailable, err))
		return
	}
	var racks []chain.Rack
	if info.IsDir() {
		racks, err = h.analyzer.ImportDirectory(ctx, path)
	} else {
		var r *chain.Rack
		if r, err = h.analyzer.Import(ctx, path, req.ID); err == nil {
			racks = []chain.Rack{*r}
		}
	}
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("racks imported", "count", len(racks))
	c.JSON(http.StatusCreated, ImportResponse{Racks: racks, Count: len(racks)})
}

// HandleAnalyze handles POST /v1/racks/:id/analyze. A rack that cannot be
// decompressed or parsed answers 422 after its failure is recorded.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	logger := handlerLogger(c, "HandleAnalyze")
	var req AnalyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, logger, "Invalid request body", err)
			return
		}
	}
	if force, ok := c.GetQuery("force"); ok {
		req.Force, _ = strconv.ParseBool(force)
	}

	rackID := c.Param("id")
	out, err := h.analyzer.AnalyzeRack(c.Request.Context(), rackID, req.Force)
	if err != nil {
		writeError(c, logger.With("rack_id", rackID), err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleCompliance handles GET /v1/racks/:id/compliance.
func (h *Handlers) HandleCompliance(c *gin.Context) {
	logger := handlerLogger(c, "HandleCompliance")
	report, err := h.analyzer.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHierarchy handles GET /v1/racks/:id/hierarchy?devices=true.
func (h *Handlers) HandleHierarchy(c *gin.Context) {
	logger := handlerLogger(c, "HandleHierarchy")
	devices, _ := strconv.ParseBool(c.DefaultQuery("devices", "false"))
	tree, err := h.analyzer.Hierarchy(c.Request.Context(), c.Param("id"), devices)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if tree == nil {
		tree = []*service.Node{}
	}
	c.JSON(http.StatusOK, gin.H{"rack_id": c.Param("id"), "hierarchy": tree})
}

// HandleChain handles GET /v1/racks/:id/chains/:chain_id.
func (h *Handlers) HandleChain(c *gin.Context) {
	logger := handlerLogger(c, "HandleChain")
	d, err := h.analyzer.ChainDetails(c.Request.Context(), c.Param("id"), c.Param("chain_id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// HandleSimilar handles GET /v1/racks/:id/similar?k=5.
func (h *Handlers) HandleSimilar(c *gin.Context) {
	logger := handlerLogger(c, "HandleSimilar")
	k, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || k < 1 || k > 100 {
		badRequest(c, logger, "k must be between 1 and 100", err)
		return
	}
	res, err := h.analyzer.SimilarRacks(c.Request.Context(), c.Param("id"), k)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rack_id": c.Param("id"), "similar": res})
}

// HandlePlatformReport handles GET /v1/compliance/report.
func (h *Handlers) HandlePlatformReport(c *gin.Context) {
	logger := handlerLogger(c, "HandlePlatformReport")
	report, err := h.analyzer.PlatformReport(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleBulkValidate handles POST /v1/compliance/bulk.
func (h *Handlers) HandleBulkValidate(c *gin.Context) {
	logger := handlerLogger(c, "HandleBulkValidate")
	var req BulkValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, logger, "Invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, logger, "Invalid rack_ids", err)
		return
	}

	results, err := h.analyzer.BulkValidate(c.Request.Context(), req.RackIDs)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	resp := BulkValidateResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Report != nil && r.Report.Compliant {
			resp.Compliant++
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleInvalidate handles DELETE /v1/compliance/cache/:id.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	rackID := c.Param("id")
	keys := h.analyzer.InvalidateCache(c.Request.Context(), rackID)
	c.JSON(http.StatusOK, InvalidateResponse{RackID: rackID, Keys: keys})
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	logger := handlerLogger(c, "HandleStats")
	st, err := h.analyzer.Statistics(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
