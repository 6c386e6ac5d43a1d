package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/gin-gonic/gin"
)

func GetBudget(c *gin.Context) {
	budget, err := models.GetBudget(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "budget": budget})
}

func UpdateBudget(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewTotalBudget
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	budget, err := models.UpdateBudget(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "budget": budget})
}
