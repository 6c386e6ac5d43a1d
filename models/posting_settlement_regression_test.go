package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestPostingAndSettlementLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")
	t.Setenv("LEGACY_PURCHASE_STOCK_DECREMENT", "")
	t.Setenv("AUDIT_EXPORT_DIR", t.TempDir())

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUserRoleInContext(ctx, "owner")

	// Seed the budget ceiling.
	if err := db.Create(&models.TotalBudget{ID: models.BudgetRowId, Budget: dec(t, "100000")}).Error; err != nil {
		t.Fatalf("seed budget: %v", err)
	}

	client, err := models.CreateClient(ctx, &models.NewClient{Name: "Acme Retail"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{Name: "Global Wholesale"})
	if err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}
	cash, err := models.CreatePaymentMethod(ctx, &models.NewPaymentMethod{Name: "Cash"})
	if err != nil {
		t.Fatalf("CreatePaymentMethod: %v", err)
	}
	widget, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:          "Widget",
		StockQuantity: dec(t, "0"),
		SellingPrice:  dec(t, "15.00"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	baseDate := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	due := baseDate.AddDate(0, 1, 0)

	var purchase *models.Transaction

	t.Run("purchase increments stock and records cost basis", func(t *testing.T) {
		purchase, err = workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeDebit,
			Amount:          dec(t, "100.00"),
			Date:            baseDate,
			SupplierId:      &supplier.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "PO-1001",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "10"), UnitPrice: dec(t, "10.00")},
			},
		})
		if err != nil {
			t.Fatalf("CreateTransaction(purchase): %v", err)
		}
		if !purchase.RemainingBalance.Equal(dec(t, "100.00")) {
			t.Fatalf("remaining = %s; want 100.00", purchase.RemainingBalance)
		}
		if got := stockOf(t, db, widget.ID); !got.Equal(dec(t, "10")) {
			t.Fatalf("stock after purchase = %s; want 10", got)
		}
		if !purchase.Products[0].HistoricalCostPrice.Equal(dec(t, "10.00")) {
			t.Fatalf("cost basis = %s; want 10.00", purchase.Products[0].HistoricalCostPrice)
		}
	})

	t.Run("cheaper restock cannot lower the cost basis", func(t *testing.T) {
		cheap, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeDebit,
			Amount:          dec(t, "40.00"),
			Date:            baseDate.AddDate(0, 0, 1),
			SupplierId:      &supplier.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "PO-1002",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "5"), UnitPrice: dec(t, "8.00")},
			},
		})
		if err != nil {
			t.Fatalf("CreateTransaction(cheap restock): %v", err)
		}
		if !cheap.Products[0].HistoricalCostPrice.Equal(dec(t, "10.00")) {
			t.Fatalf("cost basis after cheap restock = %s; want 10.00 (ratchet)", cheap.Products[0].HistoricalCostPrice)
		}
	})

	t.Run("sale below cost basis is rejected", func(t *testing.T) {
		_, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeCredit,
			Amount:          dec(t, "45.00"),
			Date:            baseDate.AddDate(0, 0, 2),
			ClientId:        &client.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "INV-2000",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "5"), UnitPrice: dec(t, "9.00")},
			},
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected validation error for sale below cost, got %v", err)
		}
	})

	t.Run("sale-seeded cost basis binds later sales", func(t *testing.T) {
		// A product with no purchase history: the first sale seeds the cost
		// basis from the fallback, and that recorded cost must bind follow-up
		// sales even though no debit line exists for the product.
		gadget, err := models.CreateProduct(ctx, &models.NewProduct{
			Name:          "Gadget",
			StockQuantity: dec(t, "10"),
			SellingPrice:  dec(t, "20.00"),
		})
		if err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
		seeded, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeCredit,
			Amount:          dec(t, "36.00"),
			Date:            baseDate.AddDate(0, 0, 2),
			ClientId:        &client.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "INV-2100",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: gadget.ID, Quantity: dec(t, "2"), UnitPrice: dec(t, "18.00")},
			},
		})
		if err != nil {
			t.Fatalf("CreateTransaction(seeding sale): %v", err)
		}
		if !seeded.Products[0].HistoricalCostPrice.Equal(dec(t, "18.00")) {
			t.Fatalf("seeded cost basis = %s; want 18.00", seeded.Products[0].HistoricalCostPrice)
		}

		_, err = workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeCredit,
			Amount:          dec(t, "30.00"),
			Date:            baseDate.AddDate(0, 0, 3),
			ClientId:        &client.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "INV-2101",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: gadget.ID, Quantity: dec(t, "2"), UnitPrice: dec(t, "15.00")},
			},
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected rejection below the sale-seeded cost basis, got %v", err)
		}
	})

	t.Run("oversell is rejected before any mutation", func(t *testing.T) {
		before := stockOf(t, db, widget.ID)
		_, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeCredit,
			Amount:          dec(t, "1500.00"),
			Date:            baseDate.AddDate(0, 0, 2),
			ClientId:        &client.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "INV-2001",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "100"), UnitPrice: dec(t, "15.00")},
			},
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected validation error for oversell, got %v", err)
		}
		if got := stockOf(t, db, widget.ID); !got.Equal(before) {
			t.Fatalf("stock changed on rejected posting: %s -> %s", before, got)
		}
	})

	var sale *models.Transaction

	t.Run("sale decrements stock and books initial payment", func(t *testing.T) {
		sale, err = workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeCredit,
			Amount:          dec(t, "150.00"),
			Date:            baseDate.AddDate(0, 0, 3),
			ClientId:        &client.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "INV-2002",
			DueDate:         due,
			InitialPayment:  dec(t, "50.00"),
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "10"), UnitPrice: dec(t, "15.00")},
			},
		})
		if err != nil {
			t.Fatalf("CreateTransaction(sale): %v", err)
		}
		if !sale.RemainingBalance.Equal(dec(t, "100.00")) {
			t.Fatalf("remaining = %s; want 100.00", sale.RemainingBalance)
		}
		if got := stockOf(t, db, widget.ID); !got.Equal(dec(t, "5")) {
			t.Fatalf("stock after sale = %s; want 5", got)
		}
		if len(sale.Payments) != 1 {
			t.Fatalf("expected 1 initial payment, got %d", len(sale.Payments))
		}
	})

	t.Run("payments settle the balance and enforce the overpayment ceiling", func(t *testing.T) {
		_, err := workflow.CreatePayment(ctx, &models.NewPayment{
			TransactionId:   sale.ID,
			AmountPaid:      dec(t, "200.00"),
			PaymentDate:     baseDate.AddDate(0, 0, 4),
			PaymentMethodId: cash.ID,
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected overpayment rejection, got %v", err)
		}

		// Omitted payment_date gets stamped server-side.
		second, err := workflow.CreatePayment(ctx, &models.NewPayment{
			TransactionId:   sale.ID,
			AmountPaid:      dec(t, "60.00"),
			PaymentMethodId: cash.ID,
		})
		if err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
		if second.PaymentDate.IsZero() {
			t.Fatal("expected omitted payment date to default to now")
		}

		// PATCH ceiling = remaining + old amount; exactly the ceiling settles.
		patched, err := workflow.UpdatePayment(ctx, second.ID, &models.PaymentPatch{
			AmountPaid: decPtr(t, "100.00"),
		})
		if err != nil {
			t.Fatalf("UpdatePayment to ceiling: %v", err)
		}
		if !patched.AmountPaid.Equal(dec(t, "100.00")) {
			t.Fatalf("patched amount = %s; want 100.00", patched.AmountPaid)
		}

		settled, err := models.GetTransaction(ctx, sale.ID)
		if err != nil {
			t.Fatalf("GetTransaction: %v", err)
		}
		if !settled.RemainingBalance.IsZero() {
			t.Fatalf("remaining after settle = %s; want 0", settled.RemainingBalance)
		}
		if settled.DueStatus != models.DueStatusPaid {
			t.Fatalf("due status = %s; want paid", settled.DueStatus)
		}

		// Fully paid: further payments rejected.
		_, err = workflow.CreatePayment(ctx, &models.NewPayment{
			TransactionId:   sale.ID,
			AmountPaid:      dec(t, "1.00"),
			PaymentDate:     baseDate.AddDate(0, 0, 5),
			PaymentMethodId: cash.ID,
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected fully-paid rejection, got %v", err)
		}

		// Deleting a payment reopens the balance.
		if err := workflow.DeletePayment(ctx, patched.ID); err != nil {
			t.Fatalf("DeletePayment: %v", err)
		}
		reopened, err := models.GetTransaction(ctx, sale.ID)
		if err != nil {
			t.Fatalf("GetTransaction: %v", err)
		}
		if !reopened.RemainingBalance.Equal(dec(t, "100.00")) {
			t.Fatalf("remaining after delete = %s; want 100.00", reopened.RemainingBalance)
		}
	})

	t.Run("update restores old stock and books an initial payment", func(t *testing.T) {
		input := func(initial string) *models.NewTransaction {
			return &models.NewTransaction{
				Type:            models.TransactionTypeCredit,
				Amount:          dec(t, "150.00"),
				Date:            sale.Date,
				ClientId:        &client.ID,
				PaymentMethodId: cash.ID,
				ReferenceNumber: "INV-2002",
				DueDate:         due,
				InitialPayment:  dec(t, initial),
				Products: []models.NewTransactionProduct{
					{ProductId: widget.ID, Quantity: dec(t, "4"), UnitPrice: dec(t, "15.00")},
				},
			}
		}

		// 50.00 is already paid; an initial payment may only cover the rest.
		if _, err := workflow.UpdateTransaction(ctx, sale.ID, input("200.00")); !utils.IsValidationError(err) {
			t.Fatalf("expected initial payment over remaining to be rejected, got %v", err)
		}

		before := stockOf(t, db, widget.ID)
		updated, err := workflow.UpdateTransaction(ctx, sale.ID, input("25.00"))
		if err != nil {
			t.Fatalf("UpdateTransaction: %v", err)
		}
		// Old sale of 10 is restored, new sale of 4 applied: net +6.
		if got := stockOf(t, db, widget.ID); !got.Equal(before.Add(dec(t, "6"))) {
			t.Fatalf("stock after update = %s; want %s", got, before.Add(dec(t, "6")))
		}
		if len(updated.Products) != 1 || !updated.Products[0].Quantity.Equal(dec(t, "4")) {
			t.Fatalf("unexpected items after update: %+v", updated.Products)
		}
		if len(updated.Payments) != 2 {
			t.Fatalf("expected the initial payment booked alongside the existing one, got %d payments", len(updated.Payments))
		}
		if !updated.RemainingBalance.Equal(dec(t, "75.00")) {
			t.Fatalf("remaining after update = %s; want 75.00", updated.RemainingBalance)
		}
	})

	t.Run("delete restores stock and removes payments", func(t *testing.T) {
		before := stockOf(t, db, widget.ID)
		if err := workflow.DeleteTransaction(ctx, sale.ID); err != nil {
			t.Fatalf("DeleteTransaction: %v", err)
		}
		if got := stockOf(t, db, widget.ID); !got.Equal(before.Add(dec(t, "4"))) {
			t.Fatalf("stock after delete = %s; want %s", got, before.Add(dec(t, "4")))
		}
		if _, err := models.GetTransaction(ctx, sale.ID); !utils.IsNotFound(err) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
		var count int64
		if err := db.Model(&models.Payment{}).Where("transaction_id = ?", sale.ID).Count(&count).Error; err != nil {
			t.Fatalf("count payments: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected payments removed, got %d", count)
		}
	})

	t.Run("concurrent duplicate references resolve to one winner", func(t *testing.T) {
		input := func() *models.NewTransaction {
			return &models.NewTransaction{
				Type:            models.TransactionTypeDebit,
				Amount:          dec(t, "10.00"),
				Date:            baseDate.AddDate(0, 0, 6),
				SupplierId:      &supplier.ID,
				PaymentMethodId: cash.ID,
				ReferenceNumber: "PO-RACE-1",
				DueDate:         due,
				Products: []models.NewTransactionProduct{
					{ProductId: widget.ID, Quantity: dec(t, "1"), UnitPrice: dec(t, "10.00")},
				},
			}
		}

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = workflow.CreateTransaction(ctx, input())
			}(i)
		}
		wg.Wait()

		var okCount, rejectCount int
		for _, err := range errs {
			switch {
			case err == nil:
				okCount++
			case utils.IsValidationError(err) || utils.IsConflictError(err):
				rejectCount++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if okCount != 1 || rejectCount != 1 {
			t.Fatalf("expected exactly one winner, got ok=%d rejected=%d", okCount, rejectCount)
		}

		var count int64
		if err := db.Model(&models.Transaction{}).Where("reference_number = ?", "PO-RACE-1").Count(&count).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 row for PO-RACE-1, got %d", count)
		}
	})

	t.Run("budget ceiling applies to the posting amount", func(t *testing.T) {
		_, err := workflow.CreateTransaction(ctx, &models.NewTransaction{
			Type:            models.TransactionTypeDebit,
			Amount:          dec(t, "999999.00"),
			Date:            baseDate.AddDate(0, 0, 7),
			SupplierId:      &supplier.ID,
			PaymentMethodId: cash.ID,
			ReferenceNumber: "PO-HUGE-1",
			DueDate:         due,
			Products: []models.NewTransactionProduct{
				{ProductId: widget.ID, Quantity: dec(t, "1"), UnitPrice: dec(t, "999999.00")},
			},
		})
		if !utils.IsValidationError(err) {
			t.Fatalf("expected budget rejection, got %v", err)
		}
	})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	v := dec(t, s)
	return &v
}

func stockOf(t *testing.T, db *gorm.DB, productId int) decimal.Decimal {
	t.Helper()
	var product models.Product
	if err := db.First(&product, productId).Error; err != nil {
		t.Fatalf("fetch product %d: %v", productId, err)
	}
	return product.StockQuantity
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
