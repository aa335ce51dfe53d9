package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/tradeledger_backend/models"
	"github.com/gin-gonic/gin"
)

func createContact(c *gin.Context) {
	var input models.NewContact
	if !bindJSON(c, &input) {
		return
	}
	contact, err := models.CreateContact(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func listContacts(c *gin.Context) {
	var kind *models.ContactKind
	if v := c.Query("kind"); v != "" {
		k := models.ContactKind(v)
		if !k.IsValid() {
			badRequest(c, "invalid kind '"+v+"'")
			return
		}
		kind = &k
	}
	contacts, err := models.ListContacts(c.Request.Context(), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func getContact(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	contact, err := models.GetContact(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func deleteContact(c *gin.Context) {
	id, ok := paramId(c)
	if !ok {
		return
	}
	contact, err := models.DeleteContact(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func createHsCode(c *gin.Context) {
	var input models.NewHsCode
	if !bindJSON(c, &input) {
		return
	}
	code, err := models.CreateHsCode(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func listHsCodes(c *gin.Context) {
	codes, err := models.ListHsCodes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, codes)
}
