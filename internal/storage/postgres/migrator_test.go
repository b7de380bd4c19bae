package postgres

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}

	first := migrations[0]
	if first.Version != 1 {
		t.Fatalf("expected version 1 first, got %d", first.Version)
	}
	if !strings.Contains(first.UpSQL, "CREATE TABLE") {
		t.Fatal("up migration must create the orders table")
	}
	if first.DownSQL == "" {
		t.Fatal("expected paired down migration")
	}
}

func TestLoadMigrationsSorted(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].Version >= migrations[i].Version {
			t.Fatalf("migrations out of order: %d before %d", migrations[i-1].Version, migrations[i].Version)
		}
	}
}
