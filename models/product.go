package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

type Product struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Name             string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Description      string          `gorm:"type:text;default:null" json:"description"`
	Status           ProductStatus   `gorm:"type:enum('active','inactive');default:'active'" json:"status"`
	StockQuantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_quantity"`
	SellingPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	CurrentCostPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_cost_price"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name             string          `json:"name" binding:"required"`
	Description      string          `json:"description"`
	StockQuantity    decimal.Decimal `json:"stock_quantity"`
	SellingPrice     decimal.Decimal `json:"selling_price"`
	CurrentCostPrice decimal.Decimal `json:"current_cost_price"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if input.StockQuantity.IsNegative() {
		return nil, utils.NewValidationError("stock quantity cannot be negative")
	}

	product := Product{
		Name:             input.Name,
		Description:      input.Description,
		Status:           ProductStatusActive,
		StockQuantity:    input.StockQuantity,
		SellingPrice:     input.SellingPrice,
		CurrentCostPrice: input.CurrentCostPrice,
	}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func ListProductsWithStock(ctx context.Context) ([]Product, error) {
	db := config.GetDB()
	var products []Product
	err := db.WithContext(ctx).Order("id ASC").Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// GetProductForUpdate reads a product under a row lock so stock checks and
// the subsequent mutation observe the same quantity. Must be called inside
// a transaction.
func GetProductForUpdate(tx *gorm.DB, productId int) (*Product, error) {
	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, productId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

// AdjustProductStock applies a signed quantity delta to a product inside the
// caller's transaction. The resulting quantity must not go negative.
func AdjustProductStock(tx *gorm.DB, productId int, delta decimal.Decimal) (*Product, error) {
	product, err := GetProductForUpdate(tx, productId)
	if err != nil {
		return nil, err
	}
	newQty := product.StockQuantity.Add(delta)
	if newQty.IsNegative() {
		return nil, utils.NewConflictError("insufficient stock for product " + product.Name)
	}
	err = tx.Model(&Product{}).Where("id = ?", productId).
		Update("stock_quantity", newQty).Error
	if err != nil {
		return nil, err
	}
	product.StockQuantity = newQty
	return product, nil
}

// SetProductStock is the manual stock adjustment used by the stock endpoint;
// it runs its own transaction.
func SetProductStock(ctx context.Context, productId int, delta decimal.Decimal) (*Product, error) {
	db := config.GetDB()

	var product *Product
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		product, err = AdjustProductStock(tx, productId, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}
