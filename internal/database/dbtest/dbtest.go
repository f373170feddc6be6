// Package dbtest opens throwaway SQLite databases with the service schema applied.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// DSN returns a SQLite DSN for a file under dir
func DSN(dir string) string {
	return "file:" + filepath.Join(dir, "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// New opens a migrated database that is closed when the test ends
func New(t testing.TB) *database.Database {
	t.Helper()

	db, err := database.Open(database.DriverSQLite, DSN(t.TempDir()), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.RunMigrations())
	return db
}

// SeedInvoice inserts the invoice the invoicing service would have written for orderID
func SeedInvoice(t testing.TB, db *database.Database, orderID int64, invoiceNumber string) {
	t.Helper()

	_, err := db.DB.Exec(db.Rebind(`INSERT INTO invoices (order_id, invoice_number, created_at) VALUES (?, ?, ?)`),
		orderID, invoiceNumber, time.Now().UTC())
	require.NoError(t, err)
}

// SeedShipmentDetails inserts the shipment details the logistics service would have written for orderID
func SeedShipmentDetails(t testing.TB, db *database.Database, orderID int64, carrier string) {
	t.Helper()

	_, err := db.DB.Exec(db.Rebind(`INSERT INTO shipment_details (order_id, carrier, created_at) VALUES (?, ?, ?)`),
		orderID, carrier, time.Now().UTC())
	require.NoError(t, err)
}
