// Package notify prints the agent's per-cycle status to stdout, in
// either a one-line compact form or a full table of the cycle's trades.
// Adapted from the teacher's reward-farming console reporter: same
// compact/full split and the same tablewriter-based rendering, applied
// to cycle/trade output instead of reward opportunities.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/edgebot/agent/internal/domain"
)

// Console reports cycle results to an io.Writer (stdout by default).
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole builds a Console that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter builds a Console over an arbitrary writer, for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// ReportCycle prints the outcome of one lifecycle cycle: bankroll,
// state, and (in table mode) every trade placed this cycle.
func (c *Console) ReportCycle(_ context.Context, rec domain.CycleRecord, placed []domain.Trade) error {
	now := rec.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if c.table {
		c.printFull(rec, placed)
	} else {
		c.printCompact(rec, placed)
	}
	return nil
}

func (c *Console) printCompact(rec domain.CycleRecord, placed []domain.Trade) {
	now := rec.Timestamp.Format("15:04:05")

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cycle %d [%s] scanned:%d found:%d placed:%d bankroll:%s cost:%s",
		now, rec.CycleNumber, rec.AgentState, rec.MarketsScanned, rec.OpportunitiesFound,
		rec.TradesPlaced, rec.ClosingBankroll, rec.APICost)

	shown := 0
	for _, t := range placed {
		if shown >= 4 {
			break
		}
		fmt.Fprintf(&sb, " | %s %s@%s size:%s edge:%s",
			t.Direction, compactName(t.Question, 25), t.EntryPrice.StringFixed(4), t.Size, t.EdgeAtEntry.StringFixed(3))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printFull(rec domain.CycleRecord, placed []domain.Trade) {
	now := rec.Timestamp.Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] cycle %d — state:%s scanned:%d found:%d placed:%d\n",
		now, rec.CycleNumber, rec.AgentState, rec.MarketsScanned, rec.OpportunitiesFound, rec.TradesPlaced)
	fmt.Fprintf(c.out, "  bankroll:%s unrealized_pnl:%s api_cost:%s duration:%dms\n\n",
		rec.ClosingBankroll, rec.UnrealizedPnL, rec.APICost, rec.DurationMS)

	if len(placed) == 0 {
		fmt.Fprintln(c.out, "  no trades placed this cycle")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Dir", "Entry", "Size", "Edge", "Fair", "Conf", "Kelly adj")

	for _, t := range placed {
		table.Append(
			compactName(t.Question, 40),
			string(t.Direction),
			t.EntryPrice.StringFixed(4),
			t.Size.String(),
			t.EdgeAtEntry.StringFixed(4),
			t.FairValue.StringFixed(4),
			t.Confidence.StringFixed(2),
			t.KellyAdjusted.StringFixed(4),
		)
	}
	table.Render()
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
