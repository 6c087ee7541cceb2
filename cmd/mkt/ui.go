package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"stanksmarket/internal/market"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptConfirm(label string) (bool, error) {
	text, err := promptOptional(label + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(text) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func renderStatus(st market.MarketStatus) {
	accent.Println("\n== MARKET ==")
	if st.TradingHalted {
		reason := ""
		if st.HaltReason != nil {
			reason = *st.HaltReason
		}
		danger.Printf("HALTED: %s\n", reason)
		fmt.Printf("Resumes: %s\n", formatResume(st.ResumesAt))
	} else {
		success.Println("TRADING")
	}
	fmt.Printf("Profile: %s\n", st.Profile)
	if !st.LastTickAt.IsZero() {
		fmt.Printf("Last tick: %s\n", st.LastTickAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
}

func renderInstruments(insts []market.InstrumentSnapshot) {
	accent.Println("\n== INSTRUMENTS ==")
	if len(insts) == 0 {
		printInfo("No instruments found.")
		return
	}
	fmt.Printf("%-8s %-22s %-14s %12s %10s %-8s\n", "SYMBOL", "NAME", "SECTOR", "PRICE", "24H", "STATUS")
	for _, s := range insts {
		sector := s.Sector
		if s.Kind == market.KindPlayerIPO {
			sector = "ipo"
		}
		fmt.Printf("%-8s %-22s %-14s %12s %10s %-8s\n",
			s.Symbol,
			truncate(s.Name, 22),
			truncate(sector, 14),
			formatMicros(s.CurrentPriceMicros),
			colorizePercent(s.ChangePct),
			colorizeStatus(s.Status),
		)
	}
	fmt.Println()
}

func renderInstrument(s market.InstrumentSnapshot, series []market.PricePoint) {
	accent.Printf("\n== %s (%s) ==\n", s.Symbol, s.Name)
	fmt.Printf("Price:      %s stonky (%s)\n", formatMicros(s.CurrentPriceMicros), colorizePercent(s.ChangePct))
	fmt.Printf("24h range:  %s - %s\n", formatMicros(s.Low24hMicros), formatMicros(s.High24hMicros))
	fmt.Printf("Trend:      %s x%d\n", s.Trend, s.TrendStrength)
	fmt.Printf("Status:     %s\n", colorizeStatus(s.Status))
	if s.Status == market.StatusHalted {
		fmt.Printf("Reason:     %s\n", s.HaltReason)
		fmt.Printf("Resumes:    %s\n", formatResume(s.ResumesAt))
	}
	if len(series) > 1 {
		delta := series[len(series)-1].PriceMicros - series[0].PriceMicros
		fmt.Printf("Recent:     %s stonky\n", colorizeMicros(delta))
	}
	if len(series) > 0 {
		fmt.Println()
		accent.Println("Recent Ticks")
		fmt.Printf("%-20s %12s\n", "TIME", "PRICE")
		for i := len(series) - 1; i >= 0; i-- {
			p := series[i]
			fmt.Printf("%-20s %12s\n", p.At.Local().Format("2006-01-02 15:04"), formatMicros(p.PriceMicros))
		}
	}
	fmt.Println()
}

func renderIndices(ixs []market.IndexSnapshot) {
	accent.Println("\n== INDICES ==")
	if len(ixs) == 0 {
		printInfo("No indices found.")
		return
	}
	fmt.Printf("%-8s %-24s %12s %10s %6s\n", "SYMBOL", "NAME", "VALUE", "24H", "SIZE")
	for _, ix := range ixs {
		fmt.Printf("%-8s %-24s %12s %10s %6d\n",
			ix.Symbol,
			truncate(ix.Name, 24),
			formatMicros(ix.CurrentValueMicros),
			colorizePercent(ix.ChangePct),
			len(ix.Components),
		)
	}
	fmt.Println()
}

func renderEvents(events []market.EventView) {
	accent.Println("\n== LIVE EVENTS ==")
	if len(events) == 0 {
		printInfo("No live events.")
		return
	}
	fmt.Printf("%-18s %-14s %6s %-22s %-16s\n", "EVENT", "EFFECT", "VALUE", "SCOPE", "EXPIRES")
	for _, ev := range events {
		scope := string(ev.Scope)
		if ev.ScopeID != "" {
			scope += ":" + ev.ScopeID
		}
		expires := "this tick"
		if ev.ExpiresAt != nil {
			expires = ev.ExpiresAt.Local().Format("01-02 15:04")
		}
		value := fmt.Sprintf("%+d", ev.EffectValue)
		if ev.IsPositive {
			value = success.Sprint(value)
		} else {
			value = danger.Sprint(value)
		}
		fmt.Printf("%-18s %-14s %6s %-22s %-16s\n", truncate(ev.Slug, 18), ev.EffectType, value, truncate(scope, 22), expires)
	}
	fmt.Println()
}

func renderIPO(st market.IPOStatus) {
	accent.Printf("\n== IPO %s (%s) ==\n", st.Symbol, st.OwnerName)
	fmt.Printf("Owner:      %s\n", st.OwnerUserID)
	fmt.Printf("IPO price:  %s stonky\n", formatMicros(st.IPOPriceMicros))
	fmt.Printf("Price:      %s stonky (%s)\n", formatMicros(st.CurrentPriceMicros), colorizePercent(st.ChangePct))
	fmt.Printf("Points:     %s base, %s potential\n", comma(st.BasePoints), comma(st.PotentialPoints))
	if st.ActiveEvent != nil {
		fmt.Printf("Event:      %s\n", *st.ActiveEvent)
	}
	switch {
	case st.Delisted:
		danger.Println("DELISTED: reward forfeited")
	case !st.IsActive:
		success.Println("RETIRED")
	default:
		left := time.Duration(st.RemainingSeconds) * time.Second
		fmt.Printf("Closes:     %s (in %s)\n", st.ExpiresAt.Local().Format("2006-01-02 15:04"), left.Round(time.Minute))
	}
	fmt.Println()
}

func renderCommand(res market.CommandResult) {
	label := fmt.Sprintf("%s %s", res.Action, res.Target)
	if !res.Applied {
		printWarn(label + ": nothing to do")
		return
	}
	printSuccess(label + ": applied")
	if res.Halt != nil {
		fmt.Printf("Reason:     %s\n", res.Halt.Reason)
		fmt.Printf("Resumes:    %s\n", formatResume(res.Halt.ResumesAt))
	}
	if res.Instrument != nil {
		fmt.Printf("Price:      %s stonky\n", formatMicros(res.Instrument.CurrentPriceMicros))
		fmt.Printf("Status:     %s\n", colorizeStatus(res.Instrument.Status))
	}
	if res.Retired != nil {
		fmt.Printf("Final:      %s stonky, %s points\n", formatMicros(res.Retired.FinalPriceMicros), comma(res.Retired.PotentialPoints))
	}
}

func formatResume(t *time.Time) string {
	if t == nil {
		return "on admin resume"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func colorizeStatus(s market.TradingStatus) string {
	if s == market.StatusHalted {
		return danger.Sprint(strings.ToUpper(string(s)))
	}
	return success.Sprint(string(s))
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / market.MicrosPerStonky
	frac := (v % market.MicrosPerStonky) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
