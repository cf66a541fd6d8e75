package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
	// ErrSelfCollect is returned when the vault is asked to collect from itself.
	ErrSelfCollect = errors.New("bank: vault cannot collect from itself")
)

// State is the subset of the state manager used for settlement balances.
type State interface {
	AccountBalance(addr common.Address) (*big.Int, error)
	SetAccountBalance(addr common.Address, amount *big.Int) error
}

// Ledger moves the settlement currency between accounts.
type Ledger struct {
	state State
}

// NewLedger returns a ledger over the supplied state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(addr common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("bank: state not configured")
	}
	return l.state.AccountBalance(addr)
}

// Credit mints amount into addr. Only used for devnet funding.
func (l *Ledger) Credit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := l.Balance(addr)
	if err != nil {
		return err
	}
	return l.state.SetAccountBalance(addr, balance.Add(balance, amount))
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := l.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	toBal, err := l.Balance(to)
	if err != nil {
		return err
	}
	if err := l.state.SetAccountBalance(from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.SetAccountBalance(to, toBal.Add(toBal, amount))
}

// Vault is the marketplace's settlement account. It implements
// marketplace.Settlement.
type Vault struct {
	ledger  *Ledger
	address common.Address
}

// NewVault returns a vault holding funds under address.
func NewVault(ledger *Ledger, address common.Address) *Vault {
	return &Vault{ledger: ledger, address: address}
}

// Address returns the vault account.
func (v *Vault) Address() common.Address { return v.address }

// Collect moves a buyer's payment into the vault. The vault cannot pay
// itself.
func (v *Vault) Collect(_ context.Context, from common.Address, amount *big.Int) error {
	if from == v.address {
		return ErrSelfCollect
	}
	return v.ledger.Transfer(from, v.address, amount)
}

// Payout moves vault funds to the recipient.
func (v *Vault) Payout(_ context.Context, to common.Address, amount *big.Int) error {
	return v.ledger.Transfer(v.address, to, amount)
}
