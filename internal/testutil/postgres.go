// Package testutil starts a throwaway Postgres for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/store"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupDB starts postgres:14-alpine, applies every up migration and
// registers cleanup with t. It skips under -short.
func SetupDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})

	if err := database.Ping(ctx, db); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := database.Migrate(ctx, db, MigrationsDir(), database.Up, nil); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// MigrationsDir is the repository's migrations directory, independent of
// the calling package's working directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// Fixture holds the users and lot most workflow tests start from.
type Fixture struct {
	Customer   *models.User
	Pharmacist *models.User
	Other      *models.User
	Regulator  *models.User
	Lot        *models.InventoryLot
}

// SeedFixture creates one user per role, a second pharmacist and a lot
// owned by the first pharmacist.
func SeedFixture(t *testing.T, db *sql.DB, quantity int, unitPrice string) *Fixture {
	t.Helper()
	ctx := context.Background()

	f := &Fixture{
		Customer:   MustUser(t, db, "customer@example.com", models.RoleCustomer, models.ApprovalStatusApproved),
		Pharmacist: MustUser(t, db, "pharmacist@example.com", models.RolePharmacist, models.ApprovalStatusApproved),
		Other:      MustUser(t, db, "other@example.com", models.RolePharmacist, models.ApprovalStatusApproved),
		Regulator:  MustUser(t, db, "regulator@example.com", models.RoleRegulator, models.ApprovalStatusApproved),
	}

	lot, err := store.CreateLot(ctx, db, store.NewLot{
		PharmacistID: f.Pharmacist.ID,
		MedicineName: "Nusinersen",
		DosageForm:   "injection",
		Strength:     "12mg/5ml",
		UnitPrice:    MustDecimal(t, unitPrice),
		Quantity:     quantity,
	})
	if err != nil {
		t.Fatalf("Create lot: %v", err)
	}
	f.Lot = lot

	return f
}

func MustUser(t *testing.T, db *sql.DB, email string, role models.Role, approval string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, store.NewUser{
		Email:          email,
		Name:           "Test " + string(role),
		Role:           role,
		ApprovalStatus: approval,
	})
	if err != nil {
		t.Fatalf("Create user %s: %v", email, err)
	}
	return user
}

// Principal is the authenticated view of u.
func Principal(u *models.User) models.Principal {
	return models.Principal{ID: u.ID, Role: u.Role, ApprovalStatus: u.ApprovalStatus}
}

func MustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Parse decimal %q: %v", s, err)
	}
	return d
}
