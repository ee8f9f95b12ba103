package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/cuentasxpagar/backend/model"
	"github.com/cuentasxpagar/backend/pkg/logger"
	"github.com/cuentasxpagar/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CompanyHandler struct {
	store service.Store
}

func NewCompanyHandler(store service.Store) *CompanyHandler {
	return &CompanyHandler{store: store}
}

type createCompanyRequest struct {
	Name    string `json:"name" binding:"required"`
	TaxID   string `json:"tax_id"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// Create registers a new active company
func (h *CompanyHandler) Create(c *gin.Context) {
	var req createCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	company := &model.Company{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		TaxID:     req.TaxID,
		Address:   req.Address,
		Phone:     req.Phone,
		Email:     req.Email,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateCompany(c.Request.Context(), company); err != nil {
		respondError(c, err)
		return
	}

	logger.Info(c.Request.Context(), "company.created", "company_id", company.ID)
	c.JSON(http.StatusCreated, company)
}

// List returns the active companies
func (h *CompanyHandler) List(c *gin.Context) {
	companies, err := h.store.ListCompanies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"companies": companies})
}

// Deactivate soft-deletes a company; its invoices stay readable
func (h *CompanyHandler) Deactivate(c *gin.Context) {
	if err := h.store.DeactivateCompany(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Company deactivated"})
}
