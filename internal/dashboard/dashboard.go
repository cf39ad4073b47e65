// Package dashboard prints a one-line colored status for terminal use.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"trendbot-go/internal/session"
	"trendbot-go/internal/signal"
)

var (
	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))

	symbolStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED"))

	holdStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#9CA3AF"))

	buyStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#10B981"))

	sellStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#EF4444"))

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))

	stateStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B"))
)

// Source provides the status to render. *session.Controller satisfies it.
type Source interface {
	Status() session.Status
}

// Render formats one status line.
func Render(st session.Status) string {
	parts := []string{
		symbolStyle.Render(st.Symbol),
		field("px", st.Price.StringFixed(2)),
		field("rsi", nullFixed(st.Indicators.RSI, 1)),
		field("ema", nullFixed(st.Indicators.EMA, 2)),
		field("atr", nullFixed(st.Indicators.ATR, 2)),
		signalStyle(st.Signal).Render(st.Signal.String()),
		field("net", worthStyle(st).Render(st.NetWorth.StringFixed(2))),
	}
	if st.Position.Active {
		parts = append(parts, field("pos", fmt.Sprintf("%s@%s", st.Position.Quantity.String(), st.Position.EntryPrice.StringFixed(2))))
	}
	if st.State != session.Streaming {
		parts = append(parts, stateStyle.Render(st.State.String()))
	}
	return strings.Join(parts, "  ")
}

// Run reprints the status every interval until ctx ends.
func Run(ctx context.Context, src Source, w io.Writer, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return
		case <-ticker.C:
			fmt.Fprint(w, "\r\033[K"+Render(src.Status()))
		}
	}
}

func field(label, value string) string {
	return labelStyle.Render(label+"=") + value
}

func nullFixed(v decimal.NullDecimal, places int32) string {
	if !v.Valid {
		return "n/a"
	}
	return v.Decimal.StringFixed(places)
}

func signalStyle(k signal.Kind) lipgloss.Style {
	switch {
	case k == signal.Buy:
		return buyStyle
	case k.IsSell():
		return sellStyle
	default:
		return holdStyle
	}
}

// worthStyle colors net worth by the open position's direction.
func worthStyle(st session.Status) lipgloss.Style {
	if !st.Position.Active {
		return lipgloss.NewStyle()
	}
	if st.Price.GreaterThanOrEqual(st.Position.EntryPrice) {
		return upStyle
	}
	return downStyle
}
