package handlers

import (
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/tradeledger_backend/importer"
	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/gin-gonic/gin"
)

const maxImportSizeBytes int64 = 10 * 1024 * 1024

func createOperation(c *gin.Context) {
	var input models.NewOperation
	if !bindJSON(c, &input) {
		return
	}
	op, err := models.CreateOperation(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, op)
}

func listOperations(c *gin.Context) {
	var status *models.OperationStatus
	if v := c.Query("status"); v != "" {
		s := models.OperationStatus(v)
		if !s.IsValid() {
			badRequest(c, "invalid status '"+v+"'")
			return
		}
		status = &s
	}
	ops, err := models.ListOperations(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ops)
}

func getOperation(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	op, err := models.GetOperation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

type updateStatusRequest struct {
	Status models.OperationStatus `json:"status" binding:"required"`
}

func updateOperationStatus(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	op, err := models.UpdateOperationStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func deleteOperation(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	op, err := models.DeleteOperation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func reconcileOperation(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := models.ReconcileOperation(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	payments, err := models.ListScheduledPayments(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

func listOperationMovements(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	movements, err := models.ListMovementsByOperation(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	summary, err := models.GetOperationCashSummary(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements, "summary": summary})
}

func marginSummary(c *gin.Context) {
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	summary, err := models.GetMarginSummary(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type importRowError struct {
	Row    int    `json:"row"`
	Detail string `json:"detail"`
}

type importResponse struct {
	Created []*models.Operation `json:"created"`
	Errors  []importRowError    `json:"errors"`
}

// importOperations takes a multipart "file" field (.csv or .xlsx).
func importOperations(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if fileHeader.Size > maxImportSizeBytes {
		badRequest(c, "file is too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	result, err := importer.ImportFile(c.Request.Context(), io.LimitReader(file, maxImportSizeBytes), fileHeader.Filename)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	resp := importResponse{Created: result.Created, Errors: []importRowError{}}
	if resp.Created == nil {
		resp.Created = []*models.Operation{}
	}
	for _, rowErr := range result.Errors {
		resp.Errors = append(resp.Errors, importRowError{Row: rowErr.Row, Detail: rowErr.Err.Error()})
	}
	c.JSON(http.StatusOK, resp)
}

func importTemplate(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="operations_template.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	if err := importer.WriteTemplate(c.Writer); err != nil {
		_ = c.Error(err)
	}
}
