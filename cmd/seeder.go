package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/purchase-core/internal/auth"
	authPostgres "github.com/frahmantamala/purchase-core/internal/auth/postgres"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	productDatamodel "github.com/frahmantamala/purchase-core/internal/core/datamodel/product"
	riskPostgres "github.com/frahmantamala/purchase-core/internal/risk/postgres"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample operators, products and customers for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSeed(context.Background()); err != nil {
			log.Fatalf("seed: %v", err)
		}
	},
}

type seedOperator struct {
	Email       string
	Name        string
	Permissions []string
}

var seedOperators = []seedOperator{
	{"admin@purchase.local", "Admin", []string{auth.PermissionAdmin}},
	{"approver@purchase.local", "Payment Approver", []string{auth.PermissionApprovePayments, auth.PermissionRejectPayments, auth.PermissionManagePurchases}},
	{"support@purchase.local", "Support", []string{auth.PermissionManagePurchases}},
}

var seedProducts = []struct {
	ID      string
	Name    string
	Price   string
	Payload string
}{
	{"game-space-odyssey", "Space Odyssey", "59.90", "SPACE-7QX2K-91LMA"},
	{"game-dungeon-crawl", "Dungeon Crawl", "19.99", "DUNGN-44FRT-2KQ0P"},
	{"game-kart-rush", "Kart Rush", "34.50", ""},
}

var seedCustomers = []struct {
	ID    string
	Name  string
	Email string
}{
	{"customer-alice", "Alice", "alice@example.com"},
	{"customer-bob", "Bob", "bob@example.com"},
}

func runSeed(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close()

	gdb, err := initGorm(db)
	if err != nil {
		return err
	}

	if clearData {
		if err := clearSeedData(ctx, gdb); err != nil {
			return err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.Security.BCryptCost)
	if err != nil {
		return err
	}

	operators := authPostgres.NewRepository(gdb)
	for _, op := range seedOperators {
		if _, err := operators.GetCredentials(ctx, op.Email); err == nil {
			fmt.Println("operator already exists:", op.Email)
			continue
		}
		if _, err := operators.CreateOperator(ctx, op.Email, op.Name, string(hash), op.Permissions); err != nil {
			return fmt.Errorf("failed to insert operator %s: %w", op.Email, err)
		}
		fmt.Println("Seeded operator:", op.Email, op.Permissions)
	}

	now := time.Now().UTC()
	for _, p := range seedProducts {
		row := productDatamodel.Product{
			ID:              p.ID,
			Name:            p.Name,
			Price:           decimal.RequireFromString(p.Price),
			Available:       true,
			DeliveryPayload: p.Payload,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := gdb.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert product %s: %w", p.ID, err)
		}
		fmt.Println("Seeded product:", p.ID)
	}

	directory := riskPostgres.NewDirectoryRepository(gdb, clock.System{})
	for _, c := range seedCustomers {
		if err := directory.EnsureCustomer(ctx, c.ID, c.Name, c.Email); err != nil {
			return fmt.Errorf("failed to insert customer %s: %w", c.ID, err)
		}
		fmt.Println("Seeded customer:", c.ID)
	}

	fmt.Println("Seed data loaded; operator password is \"password\"")
	return nil
}

func clearSeedData(ctx context.Context, db *gorm.DB) error {
	tables := []string{
		"loyalty_transactions",
		"loyalty_accounts",
		"payments",
		"customer_activities",
		"customers",
		"products",
		"operator_permissions",
		"permissions",
		"operators",
	}
	for _, t := range tables {
		if err := db.WithContext(ctx).Exec("DELETE FROM " + t).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	fmt.Println("Cleared existing data")
	return nil
}
