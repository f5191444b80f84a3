package detect

import (
	"context"
	"fmt"

	"github.com/schemamend/schemamend/database"
)

// PGProbe checks reference-row expectations against the live database.
type PGProbe struct {
	db database.DB
}

func NewPGProbe(db database.DB) *PGProbe {
	return &PGProbe{db: db}
}

// MissingRows returns the expected key values with no matching row.
// Identifiers come from operator config, not user input, but are quoted
// anyway; values travel as bind parameters.
func (p *PGProbe) MissingRows(ctx context.Context, table, keyColumn string, values []string) ([]string, error) {
	query := fmt.Sprintf(`SELECT %q::text FROM %q WHERE %q::text = ANY($1);`, keyColumn, table, keyColumn)

	rows, err := p.db.Query(ctx, query, values)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %v", table, err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning probe row: %v", err)
		}
		found[v] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	var missing []string
	for _, v := range values {
		if !found[v] {
			missing = append(missing, v)
		}
	}
	return missing, nil
}
