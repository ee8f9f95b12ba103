package handler

import (
	"github.com/cuentasxpagar/backend/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API under /api
func RegisterRoutes(router gin.IRouter, companies *CompanyHandler, invoices *InvoiceHandler) {
	router.GET("/health", Health)

	api := router.Group("/api", middleware.NoCache())
	{
		api.POST("/companies", companies.Create)
		api.GET("/companies", companies.List)

		company := api.Group("/companies/:id", middleware.CompanyContext())
		company.DELETE("", companies.Deactivate)
		company.POST("/invoices", invoices.Upload)
		company.GET("/invoices", invoices.List)
		company.GET("/summary", invoices.Summary)

		api.GET("/invoices/:id", invoices.Get)
		api.PUT("/invoices/:id/status", invoices.UpdateStatus)
		api.DELETE("/invoices/:id", invoices.Delete)
		api.POST("/invoices/:id/receipt", invoices.UploadReceipt)
		api.DELETE("/invoices/:id/receipt", invoices.DeleteReceipt)
		api.POST("/invoices/:id/xml", invoices.UploadXML)
		api.GET("/invoices/:id/files/:kind", invoices.Download)
	}
}
