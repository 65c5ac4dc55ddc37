package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	"github.com/abidjan-digital/declaration-api/internal/service"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
	"github.com/abidjan-digital/declaration-api/pkg/response"
)

// DeclarationHandler wires the declaration lifecycle endpoints.
type DeclarationHandler struct {
	declarations  *service.DeclarationService
	receipts      *service.ReceiptService
	notifications *service.NotificationService
	metrics       *service.MetricsService
}

// NewDeclarationHandler creates a new handler.
func NewDeclarationHandler(
	declarations *service.DeclarationService,
	receipts *service.ReceiptService,
	notifications *service.NotificationService,
	metrics *service.MetricsService,
) *DeclarationHandler {
	return &DeclarationHandler{
		declarations:  declarations,
		receipts:      receipts,
		notifications: notifications,
		metrics:       metrics,
	}
}

// Create godoc
// @Summary File a declaration
// @Description Multipart form with declaration fields, JSON-encoded details and up to five photos
// @Tags Declarations
// @Accept multipart/form-data
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /declarations [post]
func (h *DeclarationHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateDeclarationRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid declaration form"))
		return
	}

	photos, closers, err := photosFromForm(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer func() {
		for _, closer := range closers {
			closer.Close() //nolint:errcheck
		}
	}()

	declaration, err := h.declarations.Create(c.Request.Context(), claims.UserID, req, photos)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordDeclarationCreated(declaration.Type)
	}
	response.Created(c, declaration)
}

// ListMine godoc
// @Summary List my declarations
// @Tags Declarations
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /declarations/my-declarations [get]
func (h *DeclarationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter, err := declarationFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	declarations, total, err := h.declarations.ListMine(c.Request.Context(), claims.UserID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, declarations, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// ListForCommissariat godoc
// @Summary List declarations routed to a commissariat
// @Description Agents may only read their own commissariat
// @Tags Declarations
// @Produce json
// @Param id path string true "Commissariat ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /declarations/commissariat/{id} [get]
func (h *DeclarationHandler) ListForCommissariat(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter, err := declarationFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	declarations, total, err := h.declarations.ListForCommissariat(c.Request.Context(), claims, c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, declarations, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a declaration
// @Tags Declarations
// @Produce json
// @Param id path string true "Declaration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /declarations/{id} [get]
func (h *DeclarationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	declaration, err := h.declarations.GetByID(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, declaration, nil)
}

// UpdateStatus godoc
// @Summary Transition a declaration
// @Description Rejections require a non-empty reason; processed is reached through receipt issuance
// @Tags Declarations
// @Accept json
// @Produce json
// @Param id path string true "Declaration ID"
// @Param payload body dto.UpdateStatusRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /declarations/{id}/status [put]
func (h *DeclarationHandler) UpdateStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	declaration, err := h.declarations.UpdateStatus(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordTransition(declaration.Status)
	}
	response.JSON(c, http.StatusOK, declaration, nil)
}

// Update godoc
// @Summary Update receipt metadata
// @Tags Declarations
// @Accept json
// @Produce json
// @Param id path string true "Declaration ID"
// @Param payload body dto.UpdateDeclarationRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Router /declarations/{id} [put]
func (h *DeclarationHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateDeclarationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}

	declaration, err := h.declarations.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, declaration, nil)
}

// Delete godoc
// @Summary Delete my declaration
// @Description Owners may delete pending or rejected declarations; processed ones are immutable
// @Tags Declarations
// @Param id path string true "Declaration ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /declarations/{id} [delete]
func (h *DeclarationHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.declarations.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// IssueReceipt godoc
// @Summary Issue a receipt
// @Description Assigns the receipt reference, moves the declaration to processed and schedules the PDF
// @Tags Receipts
// @Produce json
// @Param id path string true "Declaration ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /declarations/{id}/receipt [post]
func (h *DeclarationHandler) IssueReceipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.receipts.Issue(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordReceiptIssued()
		h.metrics.RecordTransition(models.StatusProcessed)
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// SignedReceipt godoc
// @Summary Get a fresh receipt download token
// @Tags Receipts
// @Produce json
// @Param id path string true "Declaration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /declarations/{id}/receipt/signed [post]
func (h *DeclarationHandler) SignedReceipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.receipts.SignedDownload(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// DownloadReceipt godoc
// @Summary Download a receipt artifact
// @Description The signed token alone authorizes the download
// @Tags Receipts
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /declarations/receipts/{token} [get]
func (h *DeclarationHandler) DownloadReceipt(c *gin.Context) {
	download, err := h.receipts.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	c.Header("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, download.File); err != nil {
		_ = c.Error(err)
	}
}

// PendingCount godoc
// @Summary Pending declaration counter
// @Description Cached briefly; agent dashboards poll this endpoint
// @Tags Notifications
// @Produce json
// @Param id path string true "Commissariat ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /declarations/commissariat/{id}/pending-count [get]
func (h *DeclarationHandler) PendingCount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.notifications.PendingCount(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

func photosFromForm(c *gin.Context) ([]service.PhotoUpload, []io.Closer, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if err == http.ErrNotMultipart {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "multipart form required")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form")
	}

	headers := form.File["photos"]
	photos := make([]service.PhotoUpload, 0, len(headers))
	closers := make([]io.Closer, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			for _, closer := range closers {
				closer.Close() //nolint:errcheck
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable photo upload")
		}
		closers = append(closers, file)
		photos = append(photos, service.PhotoUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     file,
		})
	}
	return photos, closers, nil
}

func declarationFilterFromQuery(c *gin.Context) (models.DeclarationFilter, error) {
	filter := models.DeclarationFilter{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.DeclarationStatus(raw)
		if !status.Known() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
		}
		filter.Status = &status
	}
	if raw := c.Query("type"); raw != "" {
		declarationType := models.DeclarationType(raw)
		if !declarationType.Known() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "unknown type filter")
		}
		filter.Type = &declarationType
	}
	return filter, nil
}
