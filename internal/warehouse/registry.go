package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/model"
)

const (
	selectActiveTenants = `
		SELECT client_id, display_name, realm_id, active, needs_reconsent, created_at
		FROM dim_client
		WHERE active = TRUE AND needs_reconsent = FALSE
		ORDER BY client_id`

	selectTenant = `
		SELECT client_id, display_name, realm_id, active, needs_reconsent, created_at
		FROM dim_client
		WHERE client_id = $1`

	upsertTenant = `
		INSERT INTO dim_client (client_id, display_name, realm_id, active, needs_reconsent, created_at)
		VALUES ($1, $2, $3, TRUE, FALSE, NOW())
		ON CONFLICT (client_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    realm_id = EXCLUDED.realm_id,
		    active = TRUE,
		    needs_reconsent = FALSE`

	flagReconsent = `UPDATE dim_client SET needs_reconsent = TRUE WHERE client_id = $1`

	grantUserAccess = `
		INSERT INTO security_user_client_map (user_principal, client_id)
		VALUES ($1, $2)
		ON CONFLICT (user_principal, client_id) DO NOTHING`
)

// TenantRegistry manages tenant records in dim_client and the row-level
// security mapping that scopes analytical users to their tenants.
type TenantRegistry struct {
	db *sql.DB
}

// NewTenantRegistry creates a TenantRegistry over the warehouse connection.
func NewTenantRegistry(db *sql.DB) *TenantRegistry {
	return &TenantRegistry{db: db}
}

// Active lists tenants eligible for extraction: active and not flagged for
// re-authorization.
func (r *TenantRegistry) Active(ctx context.Context) ([]model.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, selectActiveTenants)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ClientID, &t.DisplayName, &t.RealmID, &t.Active, &t.NeedsReconsent, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Get fetches one tenant by client ID.
func (r *TenantRegistry) Get(ctx context.Context, clientID string) (model.Tenant, error) {
	var t model.Tenant
	err := r.db.QueryRowContext(ctx, selectTenant, clientID).
		Scan(&t.ClientID, &t.DisplayName, &t.RealmID, &t.Active, &t.NeedsReconsent, &t.CreatedAt)
	if err != nil {
		return model.Tenant{}, err
	}
	return t, nil
}

// Register creates or re-activates a tenant, clearing any reconsent flag.
// Called by the onboarding flow after a successful consent handshake.
func (r *TenantRegistry) Register(ctx context.Context, tenant model.Tenant) error {
	_, err := r.db.ExecContext(ctx, upsertTenant, tenant.ClientID, tenant.DisplayName, tenant.RealmID)
	if err != nil {
		return fmt.Errorf("register tenant %s: %w", tenant.ClientID, err)
	}
	return nil
}

// FlagReconsent marks a tenant whose refresh token was rejected. Flagged
// tenants are excluded from extraction until re-onboarded.
func (r *TenantRegistry) FlagReconsent(ctx context.Context, clientID string) error {
	_, err := r.db.ExecContext(ctx, flagReconsent, clientID)
	if err != nil {
		return fmt.Errorf("flag reconsent for %s: %w", clientID, err)
	}
	return nil
}

// GrantUser maps an analytical user principal to a tenant for row-level
// security filtering.
func (r *TenantRegistry) GrantUser(ctx context.Context, userPrincipal, clientID string) error {
	_, err := r.db.ExecContext(ctx, grantUserAccess, userPrincipal, clientID)
	if err != nil {
		return fmt.Errorf("grant %s access to %s: %w", userPrincipal, clientID, err)
	}
	return nil
}
