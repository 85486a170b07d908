package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, Validate(Embedded()))
}

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	data, err := fs.ReadFile(Embedded(), "migrations/20250301090000_create_catalog_and_ledger.sql")
	require.NoError(t, err)
	content := string(data)

	for _, sub := range []string{
		"CHECK (on_hand_quantity >= 0)",
		"CHECK (quantity_sold > 0)",
		"idempotency_key TEXT UNIQUE",
		"CHECK (kind IN ('intake', 'restock'))",
		"FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE RESTRICT",
		"DROP TABLE IF EXISTS sale_records",
	} {
		assert.Truef(t, strings.Contains(content, sub), "missing expected statement %q", sub)
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/create_items.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	require.Error(t, Validate(fsys))

	fsys = fstest.MapFS{
		"migrations/20250101000000_items.sql": {Data: []byte("-- +goose Up\n")},
	}
	require.Error(t, Validate(fsys))
}

func TestCatalogRevisionMigrationSeedsSingleRow(t *testing.T) {
	data, err := fs.ReadFile(Embedded(), "migrations/20250301090200_create_catalog_revision.sql")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "CHECK (id = 1)")
	assert.Contains(t, content, "INSERT INTO catalog_revision (id, revision) VALUES (1, 0)")
}
