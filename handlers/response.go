package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

// respondError maps the model error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	switch {
	case errors.As(err, &validationErr):
		fields := validationErr.Fields
		if len(fields) == 0 && validationErr.Field != "" {
			fields = map[string]string{validationErr.Field: validationErr.Message}
		}
		c.JSON(http.StatusBadRequest, errorResponse{Detail: validationErr.Error(), Fields: fields})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, errorResponse{Detail: notFoundErr.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: "internal error"})
	}
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, errorResponse{Detail: detail})
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid id '"+c.Param("id")+"'")
		return 0, false
	}
	return id, true
}

// queryDate reads an optional YYYY-MM-DD query parameter.
func queryDate(c *gin.Context, name string) (*time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	t, err := utils.ParseDate(v)
	if err != nil {
		badRequest(c, name+": "+err.Error())
		return nil, false
	}
	return &t, true
}
