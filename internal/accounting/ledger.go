// Package accounting implements the double-entry ledger every value movement
// in the simulator is routed through. Keeping the four internal accounts in
// one place makes the conservation invariant — balances always sum to the
// starting endowment — trivially checkable at any point.
package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"futsim/pkg/money"
)

// Account identifies one of the internal ledger accounts.
type Account int

const (
	// UserWallet holds the user's free collateral.
	UserWallet Account = iota
	// UserPositionMargin holds collateral locked against the open position.
	UserPositionMargin
	// ExchangeFee collects taker fees and pays maker rebates.
	ExchangeFee
	// Treasury models the counterparty that settles realized P&L.
	Treasury

	numAccounts
)

func (a Account) String() string {
	switch a {
	case UserWallet:
		return "USER_WALLET"
	case UserPositionMargin:
		return "USER_POSITION_MARGIN"
	case ExchangeFee:
		return "EXCHANGE_FEE"
	case Treasury:
		return "TREASURY"
	}
	return fmt.Sprintf("ACCOUNT(%d)", int(a))
}

var (
	// ErrInsufficientBalance is returned when a transfer would drive a user
	// account below zero. Treasury and ExchangeFee accept unbounded debits.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNegativeTransfer is returned for transfers of a negative amount;
	// callers express direction by swapping from and to.
	ErrNegativeTransfer = errors.New("negative transfer amount")
)

// Ledger is the sole writer of the four balances. M is the margin currency of
// the market: Quote for linear futures, Base for inverse.
type Ledger[M money.Currency] struct {
	balances [numAccounts]decimal.Decimal
}

// NewLedger endows the user wallet with the starting balance.
func NewLedger[M money.Currency](startingWallet M) *Ledger[M] {
	l := &Ledger[M]{}
	l.balances[UserWallet] = money.Dec(startingWallet)
	return l
}

// Transfer moves amount from one account to another. It is atomic: on error
// no balance changes. Debits that would take UserWallet or UserPositionMargin
// below zero fail with ErrInsufficientBalance.
func (l *Ledger[M]) Transfer(from, to Account, amount M) error {
	amt := money.Dec(amount)
	if amt.IsNegative() {
		return fmt.Errorf("%w: %s from %s to %s", ErrNegativeTransfer, amt, from, to)
	}
	if amt.IsZero() {
		return nil
	}
	if from == UserWallet || from == UserPositionMargin {
		if l.balances[from].Cmp(amt) < 0 {
			return fmt.Errorf("%w: %s holds %s, debit of %s",
				ErrInsufficientBalance, from, l.balances[from], amt)
		}
	}
	l.balances[from] = l.balances[from].Sub(amt)
	l.balances[to] = l.balances[to].Add(amt)
	return nil
}

// Balance returns the current balance of an account.
func (l *Ledger[M]) Balance(a Account) M {
	return money.As[M](l.balances[a])
}

// TotalBalance sums all four accounts. It equals the starting endowment after
// every completed operation.
func (l *Ledger[M]) TotalBalance() M {
	sum := decimal.Decimal{}
	for _, b := range l.balances {
		sum = sum.Add(b)
	}
	return money.As[M](sum)
}
