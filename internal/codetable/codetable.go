package codetable

import (
	"context"
	"fmt"

	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
)

// Provider resolves billing codes against versioned code tables. Lookups
// are effective-dated: a claim validates against the table version in
// force at its submission instant, never the latest.
type Provider interface {
	// Lookup returns the billing code entry effective at the given instant.
	// Fails with UnknownCode when the code appears in no table version and
	// CodeExpired when it exists but was not effective at the instant.
	Lookup(ctx context.Context, code string, effectiveAt int64) (*models.BillingCode, error)
}

// SQLProvider reads code tables from the vault database
type SQLProvider struct {
	db *database.DB
}

// NewSQLProvider creates a database-backed code table provider
func NewSQLProvider(db *database.DB) *SQLProvider {
	return &SQLProvider{db: db}
}

// Lookup implements Provider
func (p *SQLProvider) Lookup(ctx context.Context, code string, effectiveAt int64) (*models.BillingCode, error) {
	query := `
		SELECT * FROM VLT_CODE_TABLE
		WHERE CODE = ?
		ORDER BY TABLE_VERSION DESC
	`

	var rows []models.BillingCode
	if err := p.db.SelectContext(ctx, &rows, query, code); err != nil {
		return nil, fmt.Errorf("failed to query code table: %w", err)
	}

	return resolve(rows, code, effectiveAt)
}

// StaticProvider serves a fixed set of code entries from memory. Useful
// for tests and for deployments that ship code tables as data files.
type StaticProvider struct {
	entries map[string][]models.BillingCode
}

// NewStaticProvider creates an in-memory code table provider
func NewStaticProvider(codes []models.BillingCode) *StaticProvider {
	entries := make(map[string][]models.BillingCode)
	for _, c := range codes {
		entries[c.Code] = append(entries[c.Code], c)
	}
	return &StaticProvider{entries: entries}
}

// Lookup implements Provider
func (p *StaticProvider) Lookup(_ context.Context, code string, effectiveAt int64) (*models.BillingCode, error) {
	return resolve(p.entries[code], code, effectiveAt)
}

// resolve applies the effective-dating rules shared by all providers. An
// EffectiveTo of zero means open-ended; the upper bound is exclusive.
func resolve(rows []models.BillingCode, code string, effectiveAt int64) (*models.BillingCode, error) {
	if len(rows) == 0 {
		return nil, serviceerror.UnknownCode.WithDescription("code %q is not present in any code table version", code)
	}

	var best *models.BillingCode
	for i := range rows {
		row := &rows[i]
		if effectiveAt < row.EffectiveFrom {
			continue
		}
		if row.EffectiveTo != 0 && effectiveAt >= row.EffectiveTo {
			continue
		}
		if best == nil || row.TableVersion > best.TableVersion {
			best = row
		}
	}

	if best == nil {
		return nil, serviceerror.CodeExpired.WithDescription("code %q was not effective at %d", code, effectiveAt)
	}

	return best, nil
}
