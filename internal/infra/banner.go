package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// modeStyle returns the banner color and description of a trading mode.
func modeStyle(mode string) (color, desc string) {
	switch mode {
	case ModeLive:
		return ColorRed, "REAL MONEY (KALSHI PRODUCTION)"
	case ModeDemo:
		return ColorYellow, "KALSHI DEMO (PLAY MONEY)"
	case ModePaper:
		return ColorCyan, "PAPER (IN-PROCESS FILLS)"
	}
	return ColorGreen, "UNKNOWN"
}

// PrintBanner writes the startup banner with mode-specific warnings.
func PrintBanner(w io.Writer, cfg *Config) {
	color, desc := modeStyle(cfg.Trading.Mode)
	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#               📈 Kalshi Go Trading Engine               #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", strings.ToUpper(cfg.Trading.Mode))
	line("#   TYPE:    %-44s #", desc)
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("#   MARKETS: %-44d #", len(cfg.Tickers())+len(cfg.Kalshi.TrackSeries))
	if cfg.Trading.Mode == ModeLive {
		fmt.Fprintf(w, "%s#   ⚠️  WARNING: ORDERS SPEND REAL MONEY  ⚠️              #%s\n", ColorRed, ColorReset)
		fmt.Fprintf(w, "%s#   VERIFY EVERY SETTING IN DEMO FIRST                    #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
