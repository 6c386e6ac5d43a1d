package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type stockAdjustmentRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

func CreateProduct(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "product": product})
}

func ListStock(c *gin.Context) {
	products, err := models.ListProductsWithStock(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "products": products})
}

// Manual stock corrections, outside the transaction posting flow.
func IncreaseStock(c *gin.Context) {
	adjustStock(c, false)
}

func DecreaseStock(c *gin.Context) {
	adjustStock(c, true)
}

func adjustStock(c *gin.Context, negate bool) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req stockAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if !req.Quantity.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "quantity must be positive"})
		return
	}
	delta := req.Quantity
	if negate {
		delta = delta.Neg()
	}
	product, err := models.SetProductStock(c.Request.Context(), id, delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": product})
}
