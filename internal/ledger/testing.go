package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that sets one currency of a user's balance on any store.
func SeedBalance(s Store, userID, currency, amount string) error {
	ctx := context.Background()
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	return s.WithUserLock(ctx, userID, func(ctx context.Context, balances BalanceStore, _ EventLog) error {
		current, err := balances.Get(ctx, userID)
		if err != nil {
			return err
		}
		current[currency] = value
		return balances.Put(ctx, userID, current)
	})
}
