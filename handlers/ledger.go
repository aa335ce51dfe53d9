package handlers

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"bitbucket.org/mmdatafocus/tradeledger_backend/utils"
	"github.com/gin-gonic/gin"
)

func recordMovement(c *gin.Context) {
	var input models.NewCashMovement
	if !bindJSON(c, &input) {
		return
	}
	movement, err := models.RecordMovement(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func listMovements(c *gin.Context) {
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	movements, err := models.ListMovements(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func deleteMovement(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	movement, err := models.DeleteMovement(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movement)
}

type settleRequest struct {
	Date *time.Time `json:"date"`
}

// settleScheduledPayment settles on the body date, or today when the body is empty.
func settleScheduledPayment(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	var req settleRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	date := utils.DereferencePtr(req.Date, utils.Today())
	payment, err := models.SettleScheduledPayment(c.Request.Context(), id, date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

// getBalance accepts ?cutoff=YYYY-MM-DD and ?fresh=true to bypass the cache.
func getBalance(c *gin.Context) {
	cutoff, ok := queryDate(c, "cutoff")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if fresh, _ := strconv.ParseBool(c.Query("fresh")); fresh {
		ctx = utils.SetSkipBalanceCacheInContext(ctx, true)
	}
	snapshot, err := models.ComputeBalance(ctx, cutoff)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func ledgerEventRef(c *gin.Context) (models.LedgerEventReferenceType, int, bool) {
	refType := models.LedgerEventReferenceType(c.Param("type"))
	if !refType.IsValid() {
		badRequest(c, "invalid reference type '"+c.Param("type")+"'")
		return "", 0, false
	}
	id, ok := paramId(c)
	return refType, id, ok
}

func getLedgerEventStatus(c *gin.Context) {
	refType, id, ok := ledgerEventRef(c)
	if !ok {
		return
	}
	status, err := models.GetLedgerEventStatus(c.Request.Context(), refType, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func requeueLedgerEvents(c *gin.Context) {
	refType, id, ok := ledgerEventRef(c)
	if !ok {
		return
	}
	n, err := models.RequeueLedgerEvents(c.Request.Context(), refType, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
