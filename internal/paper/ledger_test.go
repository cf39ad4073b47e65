package paper

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendbot-go/internal/execution"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFeeRoundsHalfUp(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	if fee := ledger.Fee(d("100"), d("1")); !fee.Equal(d("0.10")) {
		t.Fatalf("expected fee 0.10, got %s", fee)
	}
	// 0.005 rounds up to 0.01
	if fee := ledger.Fee(d("5"), d("1")); !fee.Equal(d("0.01")) {
		t.Fatalf("expected half-up rounding to 0.01, got %s", fee)
	}
}

func TestApplyBuyDebitsCashAndOpensPosition(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	now := time.Now()

	trade, err := ledger.ApplyBuy(now, d("100"), d("1"))
	if err != nil {
		t.Fatalf("unexpected buy error: %v", err)
	}
	if trade.Side != execution.Buy || !trade.RealizedPnL.IsZero() {
		t.Fatalf("unexpected buy trade: %+v", trade)
	}
	if !ledger.Cash().Equal(d("899.9")) {
		t.Fatalf("expected cash 899.90, got %s", ledger.Cash())
	}
	pos := ledger.Position()
	if !pos.Active || !pos.EntryPrice.Equal(d("100")) || !pos.HighestPrice.Equal(d("100")) || !pos.EntryTime.Equal(now) {
		t.Fatalf("unexpected position %+v", pos)
	}
	if !ledger.Held().Equal(d("1")) {
		t.Fatalf("expected held quantity 1, got %s", ledger.Held())
	}
}

func TestApplyBuyRejectsDoubleEntry(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	if _, err := ledger.ApplyBuy(time.Now(), d("100"), d("1")); err != nil {
		t.Fatalf("unexpected buy error: %v", err)
	}
	cash := ledger.Cash()

	if _, err := ledger.ApplyBuy(time.Now(), d("90"), d("1")); !errors.Is(err, ErrPositionOpen) {
		t.Fatalf("expected ErrPositionOpen, got %v", err)
	}
	if !ledger.Cash().Equal(cash) {
		t.Fatalf("rejected buy changed cash: %s -> %s", cash, ledger.Cash())
	}
	if len(ledger.Trades()) != 1 {
		t.Fatalf("rejected buy must not be recorded")
	}
}

func TestApplyBuyInsufficientCash(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("50"), d("0.001"), DefaultFeePlaces)
	if _, err := ledger.ApplyBuy(time.Now(), d("100"), d("1")); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if ledger.Position().Active {
		t.Fatalf("position opened despite insufficient cash")
	}
}

func TestApplySellRequiresPosition(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	if _, err := ledger.ApplySell(time.Now(), d("100"), d("1"), "STOP_LOSS"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestApplySellQuantityMismatch(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0"), DefaultFeePlaces)
	ledger.ApplyBuy(time.Now(), d("100"), d("1"))
	if _, err := ledger.ApplySell(time.Now(), d("100"), d("0.5"), "RSI_EXIT"); !errors.Is(err, ErrQuantityMismatch) {
		t.Fatalf("expected ErrQuantityMismatch, got %v", err)
	}
	if !ledger.Position().Active {
		t.Fatalf("mismatched sell must not close the position")
	}
}

func TestZeroFeeRoundTripIsFlat(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), decimal.Zero, DefaultFeePlaces)
	ledger.ApplyBuy(time.Now(), d("123.45"), d("0.5"))
	trade, err := ledger.ApplySell(time.Now(), d("123.45"), d("0.5"), "RSI_EXIT")
	if err != nil {
		t.Fatalf("unexpected sell error: %v", err)
	}
	if !trade.RealizedPnL.IsZero() || !trade.RealizedPnLPct.IsZero() {
		t.Fatalf("expected zero pnl, got %s (%s%%)", trade.RealizedPnL, trade.RealizedPnLPct)
	}
	if !ledger.Cash().Equal(d("1000")) {
		t.Fatalf("expected cash restored to 1000, got %s", ledger.Cash())
	}
}

func TestApplySellFeeAwarePnL(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	ledger.ApplyBuy(time.Now(), d("100"), d("1"))
	trade, err := ledger.ApplySell(time.Now(), d("110"), d("1"), "TRAILING_TP")
	if err != nil {
		t.Fatalf("unexpected sell error: %v", err)
	}
	// (110 - 100) - (0.10 + 0.11)
	if !trade.RealizedPnL.Equal(d("9.79")) {
		t.Fatalf("expected pnl 9.79, got %s", trade.RealizedPnL)
	}
	// 9.79 / 100.10 * 100
	if !trade.RealizedPnLPct.Equal(d("9.7802")) {
		t.Fatalf("expected pnl pct 9.7802, got %s", trade.RealizedPnLPct)
	}
	if !trade.Fee.Equal(d("0.11")) || trade.Label != "TRAILING_TP" {
		t.Fatalf("unexpected sell trade %+v", trade)
	}
	// 1000 - 100.10 + 109.89
	if !ledger.Cash().Equal(d("1009.79")) || !trade.ResultingCash.Equal(d("1009.79")) {
		t.Fatalf("expected cash 1009.79, got %s", ledger.Cash())
	}
	if ledger.Position().Active || !ledger.Held().IsZero() {
		t.Fatalf("expected flat ledger after sell")
	}
	if len(ledger.Trades()) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(ledger.Trades()))
	}
}

func TestUpdateMarkIsMonotonic(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	ledger.UpdateMark(d("500"))
	if ledger.Position().HighestPrice.IsPositive() {
		t.Fatalf("flat ledger must not track a high-water mark")
	}

	ledger.ApplyBuy(time.Now(), d("100"), d("1"))
	prev := ledger.Position().HighestPrice
	for _, px := range []string{"101", "99", "105", "104.5", "105", "80", "106.25"} {
		ledger.UpdateMark(d(px))
		cur := ledger.Position().HighestPrice
		if cur.LessThan(prev) {
			t.Fatalf("high-water mark decreased from %s to %s", prev, cur)
		}
		prev = cur
	}
	if !prev.Equal(d("106.25")) {
		t.Fatalf("expected high-water mark 106.25, got %s", prev)
	}
}

func TestNetWorthAndSnapshot(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	ledger.ApplyBuy(time.Now(), d("100"), d("2"))

	if nw := ledger.NetWorth(d("110")); !nw.Equal(d("1019.8")) {
		t.Fatalf("expected net worth 1019.80, got %s", nw)
	}
	snap := ledger.Snapshot(time.Now(), d("110"))
	if !snap.NetWorth.Equal(snap.Cash.Add(snap.CryptoHeld.Mul(d("110")))) {
		t.Fatalf("snapshot net worth does not balance")
	}
	if len(snap.Trades) != 1 || snap.Symbol != "BTCUSDT" || !snap.StartingCash.Equal(d("1000")) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	snap.Trades[0].Label = "mutated"
	if ledger.Trades()[0].Label != "ENTRY" {
		t.Fatalf("snapshot must not alias trade history")
	}
}

func TestRejectsNonPositiveOrders(t *testing.T) {
	ledger := NewLedger("BTCUSDT", d("1000"), d("0.001"), DefaultFeePlaces)
	if _, err := ledger.ApplyBuy(time.Now(), d("0"), d("1")); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if _, err := ledger.ApplyBuy(time.Now(), d("100"), d("-1")); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}
