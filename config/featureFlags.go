package config

import (
	"os"
	"strings"
)

// LegacyPurchaseStockDecrement restores the historical (incorrect) behavior
// where debit transactions decremented product stock instead of incrementing
// it. Exists only to reproduce old datasets; leave unset in production.
//
// Set via env:
// - LEGACY_PURCHASE_STOCK_DECREMENT=true
func LegacyPurchaseStockDecrement() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEGACY_PURCHASE_STOCK_DECREMENT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AuditExportDir is the directory the audit dispatcher writes its CSV
// mirror into. Defaults to ./csv_exports next to the binary.
func AuditExportDir() string {
	dir := strings.TrimSpace(os.Getenv("AUDIT_EXPORT_DIR"))
	if dir == "" {
		return "csv_exports"
	}
	return dir
}
