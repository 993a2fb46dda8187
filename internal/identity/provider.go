// Package identity resolves the feed identities configured for a user.
package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/aggregator/internal/domain"
)

// PostgresProvider reads linked identities from the linked_identities table.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresProvider constructs a PostgresProvider.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

// Identities returns the user's identities, primary first, then in link order.
func (p *PostgresProvider) Identities(ctx context.Context, userID string) (domain.IdentitySet, error) {
	const query = `SELECT identity_id, handle, is_primary, enabled
        FROM linked_identities WHERE user_id=$1
        ORDER BY is_primary DESC, linked_at, identity_id`

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	set := make(domain.IdentitySet, 0)
	for rows.Next() {
		var id domain.Identity
		if err := rows.Scan(&id.ID, &id.Handle, &id.Primary, &id.Enabled); err != nil {
			return nil, err
		}
		set = append(set, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// StaticProvider serves the same identity set to every user. It backs
// single-user deployments configured through the environment.
type StaticProvider struct {
	set domain.IdentitySet
}

// NewStaticProvider builds the set from a primary identity and any linked
// ones. Blank and repeated identifiers are dropped.
func NewStaticProvider(primary string, linked []string) *StaticProvider {
	seen := make(map[string]struct{})
	set := make(domain.IdentitySet, 0, len(linked)+1)
	add := func(id string, isPrimary bool) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		set = append(set, domain.Identity{ID: id, Primary: isPrimary, Enabled: true})
	}
	add(primary, true)
	for _, id := range linked {
		add(id, false)
	}
	return &StaticProvider{set: set}
}

// Identities returns a copy of the configured set.
func (p *StaticProvider) Identities(context.Context, string) (domain.IdentitySet, error) {
	return append(domain.IdentitySet(nil), p.set...), nil
}
