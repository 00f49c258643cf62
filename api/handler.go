package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/ocr"
	"github.com/freightflow/invoice-mapping-service/internal/pipeline"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // fallback when config is silent
	Version       = "1.0.0"
)

// RuleStore is the rule persistence the API needs.
type RuleStore interface {
	List(ctx context.Context, onlyActive bool) ([]models.MappingRule, error)
	ListForForwarder(ctx context.Context, forwarderID *uuid.UUID) ([]models.MappingRule, error)
	Create(ctx context.Context, rule *models.MappingRule) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// ForwarderStore lists the configured forwarders.
type ForwarderStore interface {
	List(ctx context.Context, onlyActive bool) ([]models.Forwarder, error)
}

// ExtractionStore serves stored extraction runs.
type ExtractionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.ExtractionRecord, error)
}

// DocumentStore serves stored documents.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// Archive signs download URLs for archived documents.
type Archive interface {
	PresignURL(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
}

// Pinger is the database liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsStore aggregates run outcomes for reporting.
type StatsStore interface {
	Monthly(ctx context.Context) (*db.MonthlyStats, error)
}

// Deps are the handler's collaborators. Pipeline and Queue are required;
// nil stores make the matching endpoints answer 503.
type Deps struct {
	Pipeline    *pipeline.Processor
	Queue       *queue.Manager
	Rules       RuleStore
	Forwarders  ForwarderStore
	Extractions ExtractionStore
	Documents   DocumentStore
	Archive     Archive
	Database    Pinger
	Stats       StatsStore
}

// Handler handles HTTP requests for document processing and review.
type Handler struct {
	config      *models.Config
	pipeline    *pipeline.Processor
	queue       *queue.Manager
	rules       RuleStore
	forwarders  ForwarderStore
	extractions ExtractionStore
	documents   DocumentStore
	archive     Archive
	database    Pinger
	stats       StatsStore
	logger      *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:      config,
		pipeline:    deps.Pipeline,
		queue:       deps.Queue,
		rules:       deps.Rules,
		forwarders:  deps.Forwarders,
		extractions: deps.Extractions,
		documents:   deps.Documents,
		archive:     deps.Archive,
		database:    deps.Database,
		stats:       deps.Stats,
		logger:      logger,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Document processing
	router.HandleFunc("/api/v1/documents/process", h.ProcessDocument).Methods("POST")
	router.HandleFunc("/api/v1/documents/{id}/reprocess", h.ReprocessDocument).Methods("POST")
	router.HandleFunc("/api/v1/extractions/{id}", h.GetExtraction).Methods("GET")

	// Review queue
	router.HandleFunc("/api/v1/queue", h.ListQueue).Methods("GET")
	router.HandleFunc("/api/v1/queue/{id}/assign", h.AssignQueueItem).Methods("POST")
	router.HandleFunc("/api/v1/queue/{id}/complete", h.CompleteQueueItem).Methods("POST")
	router.HandleFunc("/api/v1/queue/{id}/skip", h.SkipQueueItem).Methods("POST")
	router.HandleFunc("/api/v1/queue/{id}/cancel", h.CancelQueueItem).Methods("POST")

	// Mapping rules
	router.HandleFunc("/api/v1/rules", h.ListRules).Methods("GET")
	router.HandleFunc("/api/v1/rules", h.CreateRule).Methods("POST")
	router.HandleFunc("/api/v1/rules/{id}", h.DeactivateRule).Methods("DELETE")

	// Forwarders
	router.HandleFunc("/api/v1/forwarders", h.ListForwarders).Methods("GET")
	router.HandleFunc("/api/v1/forwarders/identify", h.IdentifyForwarder).Methods("POST")

	// Reporting
	router.HandleFunc("/api/v1/stats", h.GetStats).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Memory      MemoryStats       `json:"memory"`
	Database    ServiceStatus     `json:"database"`
	Storage     ServiceStatus     `json:"storage"`
	ImageMagick ServiceStatus     `json:"imageMagick"`
	OCR         map[string]string `json:"ocr"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports service status plus the state of every dependency
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	databaseStatus := h.checkDatabase(r.Context())
	storageStatus := h.checkStorage()
	imageMagickStatus := h.checkImageMagick()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Database:    databaseStatus,
		Storage:     storageStatus,
		ImageMagick: imageMagickStatus,
		OCR: map[string]string{
			"provider":   h.config.OCR.Provider,
			"preprocess": fmt.Sprintf("%t", h.config.OCR.Preprocess),
		},
	}

	// Missing persistence degrades the service but does not stop it;
	// extraction still runs on in-request bytes.
	if !databaseStatus.Available || !storageStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkDatabase verifies the PostgreSQL connection
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.database == nil {
		return ServiceStatus{
			Available: false,
			Error:     "database pool not initialized",
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.database.Ping(pingCtx); err != nil {
		return ServiceStatus{
			Available: false,
			Error:     err.Error(),
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "PostgreSQL",
	}
}

// checkStorage verifies MinIO is wired up
func (h *Handler) checkStorage() ServiceStatus {
	if h.archive == nil {
		return ServiceStatus{
			Available: false,
			Error:     "storage client not initialized",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "MinIO S3",
	}
}

// checkImageMagick verifies ImageMagick is available for preprocessing
func (h *Handler) checkImageMagick() ServiceStatus {
	cmd := exec.Command("magick", "-version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		cmd = exec.Command("convert", "-version")
		output, err = cmd.CombinedOutput()
	}
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     "imagemagick not found or not executable",
		}
	}

	version := "unknown"
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		version = strings.TrimSpace(lines[0])
	}

	return ServiceStatus{
		Available: true,
		Version:   version,
	}
}

// ProcessDocument runs an uploaded document through the full pipeline
func (h *Handler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	maxUpload := int64(MaxUploadSize)
	if h.config.OCR.MaxFileSizeMB > 0 {
		maxUpload = int64(h.config.OCR.MaxFileSizeMB) * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("document")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' or 'document' field)")
			return
		}
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	doc := &models.Document{
		FileName:    header.Filename,
		ContentType: resolveContentType(header.Filename, header.Header.Get("Content-Type")),
	}

	result, err := h.pipeline.Process(ctx, doc, content)
	if err != nil {
		h.logger.Error("api.process.failed", "file", header.Filename, "error", err)
		h.sendError(w, statusForProcessError(err), err.Error())
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// ReprocessDocument re-runs a document from its archived copy
func (h *Handler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	result, err := h.pipeline.Reprocess(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("api.reprocess.failed", "document_id", id, "error", err)
		h.sendError(w, statusForProcessError(err), err.Error())
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// GetExtraction returns a stored run with its mappings and decision
func (h *Handler) GetExtraction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.extractions == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid extraction id")
		return
	}

	rec, err := h.extractions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "extraction not found")
			return
		}
		h.logger.Error("api.extraction.failed", "extraction_id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get extraction")
		return
	}

	response := map[string]interface{}{
		"success":        true,
		"extraction":     rec.Extraction,
		"identification": rec.Identification,
		"decision":       rec.Decision,
	}

	// Reviewers get a signed link to the original when it is archived.
	if h.archive != nil && h.documents != nil {
		if doc, err := h.documents.Get(ctx, rec.Extraction.DocumentID); err == nil && doc.ObjectPath != "" {
			if url, err := h.archive.PresignURL(ctx, doc.ObjectPath, 0); err == nil {
				response["documentUrl"] = url
			}
		}
	}

	json.NewEncoder(w).Encode(response)
}

// GetStats returns the current month's processing statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.stats == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	stats, err := h.stats.Monthly(r.Context())
	if err != nil {
		h.logger.Error("api.stats.failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

// resolveContentType trusts the multipart part's content type unless it
// is missing or the generic octet-stream, in which case the filename
// extension decides. Unknown extensions are assumed to be PDF.
func resolveContentType(filename, partType string) string {
	if partType != "" && partType != "application/octet-stream" {
		return partType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/pdf"
	}
}

// statusForProcessError maps pipeline failures to HTTP statuses using
// the OCR error code when one is present.
func statusForProcessError(err error) int {
	switch ocr.CodeOf(err) {
	case ocr.CodeInvalidInput:
		return http.StatusBadRequest
	case ocr.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case ocr.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ocr.CodeTimeout:
		return http.StatusGatewayTimeout
	case ocr.CodeNetworkError, ocr.CodeServiceError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
