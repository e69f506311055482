package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/services"
)

const (
	defaultChunkSize   = 1000
	defaultOverlapSize = 200
)

// DataHandler covers the project/file half of the API: project CRUD,
// uploads, processing into chunks, raw content reads and deletions.
type DataHandler struct {
	log              *logger.Logger
	projectService   services.ProjectService
	assetService     services.AssetService
	ingestionService services.IngestionService
	deletionService  services.DeletionService
}

func NewDataHandler(
	log *logger.Logger,
	projectService services.ProjectService,
	assetService services.AssetService,
	ingestionService services.IngestionService,
	deletionService services.DeletionService,
) *DataHandler {
	return &DataHandler{
		log:              log.With("handler", "DataHandler"),
		projectService:   projectService,
		assetService:     assetService,
		ingestionService: ingestionService,
		deletionService:  deletionService,
	}
}

// GET /api/v1/data/projects
func (h *DataHandler) ListProjects(c *gin.Context) {
	page := queryIntDefault(c, "page", 1)
	pageSize := queryIntDefault(c, "page_size", 10)

	projects, total, err := h.projectService.List(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"projects":  projects,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// POST /api/v1/data/projects/create/:project_code
func (h *DataHandler) CreateProject(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	project, created, err := h.projectService.Create(c.Request.Context(), currentUserID(c), projectCode)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	if created {
		RespondCreated(c, gin.H{"project": project})
		return
	}
	RespondOK(c, gin.H{"project": project})
}

// GET /api/v1/data/projects/:project_code
func (h *DataHandler) GetProject(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	detail, err := h.projectService.Detail(c.Request.Context(), currentUserID(c), projectCode)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, detail)
}

// DELETE /api/v1/data/projects/:project_code
func (h *DataHandler) DeleteProject(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	report, err := h.deletionService.DeleteProject(c.Request.Context(), currentUserID(c), projectCode)
	if err != nil {
		if report != nil {
			c.JSON(apierr.StatusOf(err), gin.H{
				"error":  APIError{Message: err.Error(), Code: apierr.CodeOf(err)},
				"report": report,
			})
			return
		}
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}

// POST /api/v1/data/upload/:project_code
func (h *DataHandler) Upload(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("missing multipart file field %q", "file"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("open uploaded file: %w", err))
		return
	}
	defer file.Close()

	asset, err := h.assetService.Upload(c.Request.Context(), currentUserID(c), projectCode, services.UploadedFile{
		OriginalName: fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		SizeBytes:    fileHeader.Size,
		Reader:       file,
	})
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondCreated(c, gin.H{
		"asset":   asset,
		"file_id": asset.Name,
	})
}

type processRequest struct {
	FileID         string `json:"file_id"`
	Text           string `json:"text"`
	ChunkingMethod string `json:"chunking_method"`
	ChunkSize      *int   `json:"chunk_size"`
	OverlapSize    *int   `json:"overlap_size"`
	DoReset        *bool  `json:"do_reset"`
}

// POST /api/v1/data/process/:project_code
func (h *DataHandler) Process(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}

	svcReq := services.ProcessRequest{
		FileID:      req.FileID,
		Text:        req.Text,
		Method:      req.ChunkingMethod,
		ChunkSize:   defaultChunkSize,
		OverlapSize: defaultOverlapSize,
	}
	if req.ChunkSize != nil {
		svcReq.ChunkSize = *req.ChunkSize
	}
	if req.OverlapSize != nil {
		svcReq.OverlapSize = *req.OverlapSize
	}
	if req.DoReset != nil {
		svcReq.DoReset = *req.DoReset
	}

	result, err := h.ingestionService.ProcessProject(c.Request.Context(), currentUserID(c), projectCode, svcReq)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, result)
}

// GET /api/v1/data/file/content/:project_code/:asset_id
func (h *DataHandler) FileContent(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	assetID, err := paramInt(c, "asset_id")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	asset, data, err := h.assetService.FileContent(c.Request.Context(), currentUserID(c), projectCode, assetID)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Name))
	c.Data(http.StatusOK, contentType, data)
}

// DELETE /api/v1/data/file/:project_code/:asset_id
func (h *DataHandler) DeleteAsset(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	assetID, err := paramInt(c, "asset_id")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	report, err := h.deletionService.DeleteAsset(c.Request.Context(), currentUserID(c), projectCode, assetID)
	if err != nil {
		if report != nil {
			c.JSON(apierr.StatusOf(err), gin.H{
				"error":  APIError{Message: err.Error(), Code: apierr.CodeOf(err)},
				"report": report,
			})
			return
		}
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}
