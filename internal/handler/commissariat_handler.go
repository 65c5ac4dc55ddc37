package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/service"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
	"github.com/abidjan-digital/declaration-api/pkg/response"
)

// CommissariatHandler wires HTTP endpoints to the commissariat service.
type CommissariatHandler struct {
	service *service.CommissariatService
}

// NewCommissariatHandler creates a new handler.
func NewCommissariatHandler(svc *service.CommissariatService) *CommissariatHandler {
	return &CommissariatHandler{service: svc}
}

// List godoc
// @Summary List commissariats
// @Description Public directory of stations, ordered by name
// @Tags Commissariats
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /commissariats [get]
func (h *CommissariatHandler) List(c *gin.Context) {
	commissariats, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, commissariats, nil)
}

// Get godoc
// @Summary Get a commissariat
// @Tags Commissariats
// @Produce json
// @Param id path string true "Commissariat ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /commissariats/{id} [get]
func (h *CommissariatHandler) Get(c *gin.Context) {
	commissariat, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, commissariat, nil)
}

// Create godoc
// @Summary Register a commissariat
// @Tags Commissariats
// @Accept json
// @Produce json
// @Param payload body dto.CreateCommissariatRequest true "Commissariat payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /commissariats [post]
func (h *CommissariatHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateCommissariatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid commissariat payload"))
		return
	}

	commissariat, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, commissariat)
}

// Delete godoc
// @Summary Delete a commissariat
// @Description Refused while active agents are still attached
// @Tags Commissariats
// @Param id path string true "Commissariat ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /commissariats/{id} [delete]
func (h *CommissariatHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
