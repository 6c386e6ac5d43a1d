package handlers

import (
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/gin-gonic/gin"
)

func CreateClient(c *gin.Context) {
	var input models.NewClient
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	client, err := models.CreateClient(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "client": client})
}

func CreateSupplier(c *gin.Context) {
	var input models.NewSupplier
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	supplier, err := models.CreateSupplier(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "supplier": supplier})
}

func UnpaidByClient(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactions, err := models.UnpaidTransactionsByClient(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	workflow.RefreshDueStatusOnRead(transactions, time.Now())
	c.JSON(http.StatusOK, gin.H{"success": true, "transactions": transactions})
}

func UnpaidBySupplier(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactions, err := models.UnpaidTransactionsBySupplier(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	workflow.RefreshDueStatusOnRead(transactions, time.Now())
	c.JSON(http.StatusOK, gin.H{"success": true, "transactions": transactions})
}

func CreatePaymentMethod(c *gin.Context) {
	var input models.NewPaymentMethod
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	paymentMethod, err := models.CreatePaymentMethod(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "payment_method": paymentMethod})
}

func ListPaymentMethods(c *gin.Context) {
	paymentMethods, err := models.ListPaymentMethods(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment_methods": paymentMethods})
}
