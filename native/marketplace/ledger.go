package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type ledgerState interface {
	MarketLedgerBalance() (*big.Int, error)
	MarketLedgerPut(balance *big.Int) error
}

// FundsLedger tracks the settlement currency held by the marketplace on behalf
// of its owner. The balance only grows through Credit and only shrinks through
// WithdrawAll.
type FundsLedger struct {
	state      ledgerState
	access     *AccessControl
	settlement Settlement
}

// NewFundsLedger wires a ledger over the supplied state.
func NewFundsLedger(state ledgerState, access *AccessControl, settlement Settlement) *FundsLedger {
	return &FundsLedger{state: state, access: access, settlement: settlement}
}

// Balance returns the current ledger balance.
func (l *FundsLedger) Balance() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	balance, err := l.state.MarketLedgerBalance()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

// Credit increases the held balance.
func (l *FundsLedger) Credit(amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("marketplace ledger: negative credit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	balance, err := l.Balance()
	if err != nil {
		return err
	}
	return l.state.MarketLedgerPut(balance.Add(balance, amt))
}

// WithdrawAll transfers the entire balance to the owner and returns the amount.
// The balance is zeroed before the payout executes, so a re-entrant
// withdrawal observes an empty ledger.
func (l *FundsLedger) WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if !l.access.IsOwner(caller) {
		return nil, ErrInvalidCaller
	}
	if l.settlement == nil {
		return nil, errNilSettlement
	}
	balance, err := l.Balance()
	if err != nil {
		return nil, err
	}
	if err := l.state.MarketLedgerPut(big.NewInt(0)); err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		if err := l.settlement.Payout(ctx, l.access.Owner(), balance); err != nil {
			return nil, fmt.Errorf("marketplace ledger: payout: %w", err)
		}
	}
	return balance, nil
}
