package controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github/itish2003/visiondoc/models"
	"github/itish2003/visiondoc/services"
)

// RAGController handles the HTTP requests for the document Q&A API.
type RAGController struct {
	ragService services.RAGService
	log        *logrus.Entry
}

// NewRAGController is called from main.go to inject the service dependency.
func NewRAGController(service services.RAGService, log *logrus.Entry) *RAGController {
	return &RAGController{ragService: service, log: log}
}

// RegisterRoutes mounts every endpoint plus the static image directory.
func RegisterRoutes(router *gin.Engine, c *RAGController, staticDir string) {
	router.Use(Recovery(c.log), CORS())
	router.Static("/static", staticDir)
	router.GET("/health", c.Health)
	router.GET("/test", c.Test)
	router.POST("/upload_pdfs/", c.UploadPDFs)
	router.POST("/ask/", c.Ask)
}

// UploadPDFs is the handler for POST /upload_pdfs/.
// It reads every multipart "files" part into memory and runs ingestion.
func (c *RAGController) UploadPDFs(ctx *gin.Context) {
	log := c.log.WithField("request_id", uuid.NewString())

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid multipart form: " + err.Error()})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No files uploaded"})
		return
	}

	files := make([]models.UploadedFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Could not read %s", h.Filename)})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Could not read %s", h.Filename)})
			return
		}
		files = append(files, models.UploadedFile{Filename: h.Filename, Data: data})
	}
	log.WithField("files", len(files)).Info("Received upload")

	resp, err := c.ragService.Ingest(ctx.Request.Context(), files)
	if err != nil {
		if errors.Is(err, services.ErrNoDocuments) {
			log.WithError(err).Warn("Upload produced no documents")
			ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		log.WithError(err).Error("Ingestion failed")
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to process PDFs: " + err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// Ask is the handler for POST /ask/. The question may come as a form field or JSON.
func (c *RAGController) Ask(ctx *gin.Context) {
	log := c.log.WithField("request_id", uuid.NewString())

	var req models.AskRequest
	if err := ctx.ShouldBind(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	result, err := c.ragService.Ask(ctx.Request.Context(), req.Question)
	switch {
	case errors.Is(err, services.ErrNotReady), errors.Is(err, services.ErrEmptyQuestion):
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		log.WithError(err).WithField("question", req.Question).Error("Query failed")
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate AI response"})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// Health reports readiness and the live index generation.
func (c *RAGController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.ragService.Health(ctx.Request.Context()))
}

// Test is a liveness ping.
func (c *RAGController) Test(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"message": "Testing successful..."})
}

// Recovery turns a panic into a 500 {error} response and logs the stack.
func Recovery(log *logrus.Entry) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"path":  ctx.Request.URL.Path,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Unhandled panic in request")
				ctx.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprint(r)})
			}
		}()
		ctx.Next()
	}
}

// CORS allows any origin, matching the local UI setup.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
