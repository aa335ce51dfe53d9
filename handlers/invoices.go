package handlers

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/gin-gonic/gin"
)

// invoiceRequest issues a numbered invoice unless Custom carries caller-chosen fields.
type invoiceRequest struct {
	Date   *time.Time         `json:"date"`
	Custom *models.NewInvoice `json:"custom"`
}

func generateInvoice(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req invoiceRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	var invoice *models.Invoice
	var err error
	if req.Custom != nil {
		invoice, err = models.GenerateCustomInvoice(c.Request.Context(), id, req.Custom)
	} else {
		invoice, err = models.GenerateInvoice(c.Request.Context(), id, req.Date)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func listInvoices(c *gin.Context) {
	invoices, err := models.ListInvoices(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func getOperationInvoice(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	invoice, err := models.GetInvoiceByOperation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}
