package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/gin-gonic/gin"
)

func CreatePayment(c *gin.Context) {
	var input models.NewPayment
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	payment, err := workflow.CreatePayment(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "payment": payment})
}

func UpdatePayment(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var patch models.PaymentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBindError(c, err)
		return
	}
	payment, err := workflow.UpdatePayment(c.Request.Context(), id, &patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment": payment})
}

func DeletePayment(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := workflow.DeletePayment(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func GetPayment(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	payment, err := models.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment": payment})
}

func ListPaymentsForTransaction(c *gin.Context) {
	transactionId, ok := pathId(c, "id")
	if !ok {
		return
	}
	payments, err := models.ListPaymentsByTransaction(c.Request.Context(), transactionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": payments})
}
