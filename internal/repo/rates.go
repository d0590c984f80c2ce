package repo

import (
	"context"
	"fmt"
)

// CurrentRates loads the newest effective rate for every provider and
// cost type. The ledger snapshots this table once per process start.
func (r *PostgresRepository) CurrentRates(ctx context.Context) ([]CostRate, error) {
	const q = `
SELECT DISTINCT ON (service_provider, cost_type)
    id, service_provider, cost_type, unit_cost, unit_type, effective_from
FROM cost_rate_history
WHERE effective_from <= NOW()
ORDER BY service_provider, cost_type, effective_from DESC;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	defer rows.Close()

	var rates []CostRate
	for rows.Next() {
		var cr CostRate
		if err := rows.Scan(&cr.ID, &cr.ServiceProvider, &cr.CostType, &cr.UnitCost, &cr.UnitType, &cr.EffectiveFrom); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		rates = append(rates, cr)
	}
	return rates, rows.Err()
}
