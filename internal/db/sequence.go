package db

import (
	"context"
	"fmt"
	"regexp"
)

// NextSequence allocates the next value for prefix from code_sequences. The
// upsert takes a row lock on the prefix, so concurrent callers in different
// transactions are serialized and never see the same value. On the first
// allocation for a prefix the counter is seeded with seed, normally the
// highest suffix already in use.
//
// Call it with the *sql.Tx that inserts the coded row so an aborted insert
// also releases the number.
func NextSequence(ctx context.Context, q Querier, prefix string, seed int64) (int64, error) {
	var next int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO code_sequences (prefix, last_value)
		VALUES ($1, $2::bigint + 1)
		ON CONFLICT (prefix) DO UPDATE SET last_value = code_sequences.last_value + 1
		RETURNING last_value
	`, prefix, seed).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence for %s: %w", prefix, err)
	}
	return next, nil
}

// MaxCodeSuffix returns the highest numeric suffix among codes in table that
// start with prefix and are followed only by digits. It is the seed for
// NextSequence when rows predate the sequence table.
func MaxCodeSuffix(ctx context.Context, q Querier, table, prefix string) (int64, error) {
	if !identPattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var max int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(CAST(SUBSTRING(code FROM $2::int) AS BIGINT)), 0)
		FROM %s
		WHERE code LIKE $1::text || '%%' AND SUBSTRING(code FROM $2::int) ~ '^[0-9]+$'
	`, table), prefix, len(prefix)+1).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max code suffix in %s: %w", table, err)
	}
	return max, nil
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// FormatCode zero-pads n to five digits after prefix: ("Q1-", 7) -> "Q1-00007".
func FormatCode(prefix string, n int64) string {
	return fmt.Sprintf("%s%05d", prefix, n)
}
