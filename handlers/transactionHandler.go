package handlers

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/gin-gonic/gin"
)

func CreateTransaction(c *gin.Context) {
	var input models.NewTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	transaction, err := workflow.CreateTransaction(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "transaction": transaction})
}

func UpdateTransaction(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.NewTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	transaction, err := workflow.UpdateTransaction(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": transaction})
}

func DeleteTransaction(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := workflow.DeleteTransaction(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func GetTransaction(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transaction, err := models.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	transaction.DueStatus = workflow.DeriveDueStatus(transaction.RemainingBalance, transaction.DueDate, time.Now())
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction": transaction})
}

func ListTransactions(c *gin.Context) {
	var filter models.TransactionFilter
	if v := c.Query("type"); v != "" {
		t := models.TransactionType(v)
		filter.Type = &t
	}
	if v := c.Query("client_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.ClientId = &id
		}
	}
	if v := c.Query("supplier_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			filter.SupplierId = &id
		}
	}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := c.Query("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	transactions, err := models.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	workflow.RefreshDueStatusOnRead(transactions, time.Now())
	c.JSON(http.StatusOK, gin.H{"success": true, "transactions": transactions})
}

func GetRemainingBalance(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transaction, err := models.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"transaction_id":    transaction.ID,
		"remaining_balance": transaction.RemainingBalance,
		"due_status":        workflow.DeriveDueStatus(transaction.RemainingBalance, transaction.DueDate, time.Now()),
	})
}
