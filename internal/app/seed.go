package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"branch-ops/internal/logging"

	"github.com/google/uuid"
)

// DemoData is what SeedDemo created or found.
type DemoData struct {
	BranchID  uuid.UUID
	SubjectID uuid.UUID
	LevelIDs  []uuid.UUID
	PackageID uuid.UUID
}

var demoLevels = []string{"Starters", "Movers", "Flyers"}

// SeedDemo inserts a demo branch, an English curriculum with three levels, a
// standard package with a branch price and a welcome promotion. Every insert
// is idempotent, so running it twice changes nothing.
func (a *App) SeedDemo(ctx context.Context, branchCode string) (*DemoData, error) {
	out := &DemoData{}
	err := a.Gateway.WithTx(ctx, "seed_demo", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO branches (code, name) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET name = branches.name
			RETURNING id
		`, branchCode, "Demo Branch "+branchCode).Scan(&out.BranchID)
		if err != nil {
			return fmt.Errorf("failed to seed branch: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO subjects (code, name) VALUES ('ENG', 'English')
			ON CONFLICT (code) DO UPDATE SET name = subjects.name
			RETURNING id
		`).Scan(&out.SubjectID)
		if err != nil {
			return fmt.Errorf("failed to seed subject: %w", err)
		}

		for i, name := range demoLevels {
			var id uuid.UUID
			err := tx.QueryRowContext(ctx, `
				INSERT INTO levels (subject_id, name, order_index) VALUES ($1, $2, $3)
				ON CONFLICT (subject_id, order_index) DO UPDATE SET name = levels.name
				RETURNING id
			`, out.SubjectID, name, i+1).Scan(&id)
			if err != nil {
				return fmt.Errorf("failed to seed level %s: %w", name, err)
			}
			out.LevelIDs = append(out.LevelIDs, id)
		}

		err = tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE name = 'Standard 3 months' AND subject_id = $1`, out.SubjectID).Scan(&out.PackageID)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRowContext(ctx, `
				INSERT INTO packages (name, subject_id, months, sessions, base_price, scholarship_months_default)
				VALUES ('Standard 3 months', $1, 3, 24, 3600000, 0)
				RETURNING id
			`, out.SubjectID).Scan(&out.PackageID)
		}
		if err != nil {
			return fmt.Errorf("failed to seed package: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO package_branch_prices (package_id, branch_id, price) VALUES ($1, $2, 3300000)
			ON CONFLICT (package_id, branch_id) DO NOTHING
		`, out.PackageID, out.BranchID); err != nil {
			return fmt.Errorf("failed to seed branch price: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotions (code, name, discount_type, discount_value) VALUES ('WELCOME10', 'Welcome 10%', 'percent', 10)
			ON CONFLICT (code) DO NOTHING
		`); err != nil {
			return fmt.Errorf("failed to seed promotion: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Info().
		Str("branch_id", out.BranchID.String()).
		Str("package_id", out.PackageID.String()).
		Int("levels", len(out.LevelIDs)).
		Msg("Demo data seeded")
	return out, nil
}
