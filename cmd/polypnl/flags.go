package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypnl/config"
	"github.com/alejandrodnm/polypnl/internal/domain"
)

const dateLayout = "2006-01-02"

// rangeFlags son los flags compartidos por collect y report.
type rangeFlags struct {
	start     string
	end       string
	filter    string
	mode      string
	pageSize  int
	maxEvents int
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.start, "start", "", "range start: YYYY-MM-DD, RFC3339 or unix seconds (inclusive)")
	fl.StringVar(&f.end, "end", "", "range end: YYYY-MM-DD (whole day), RFC3339 or unix seconds (inclusive)")
	fl.StringVar(&f.filter, "filter", "", "only events whose slug, event slug or title contains this text")
	fl.StringVar(&f.mode, "mode", "", "pagination mode: offset|cursor (overrides config)")
	fl.IntVar(&f.pageSize, "page-size", 0, "events per page (overrides config)")
	fl.IntVar(&f.maxEvents, "max-events", -1, "stop after this many events, 0 = no cap (overrides config)")
}

// resolve combina los flags con la config.
func (f *rangeFlags) resolve(cfg *config.Config) (domain.TimeRange, domain.PaginationMode, int, int, error) {
	r, err := parseRange(f.start, f.end)
	if err != nil {
		return r, "", 0, 0, err
	}

	modeStr := cfg.Collector.Mode
	if f.mode != "" {
		modeStr = f.mode
	}
	mode, ok := domain.ParsePaginationMode(modeStr)
	if !ok {
		return r, "", 0, 0, fmt.Errorf("--mode %q: want offset or cursor", modeStr)
	}

	pageSize := cfg.Collector.PageSize
	if f.pageSize > 0 {
		pageSize = f.pageSize
	}
	maxEvents := cfg.Collector.MaxEvents
	if f.maxEvents >= 0 {
		maxEvents = f.maxEvents
	}
	return r, mode, pageSize, maxEvents, nil
}

// parseRange interpreta --start/--end. Un --end con solo fecha cubre el día entero (UTC).
func parseRange(start, end string) (domain.TimeRange, error) {
	var r domain.TimeRange
	var err error
	if r.StartTs, _, err = parseTime(start); err != nil {
		return r, fmt.Errorf("--start: %w", err)
	}
	var dateOnly bool
	if r.EndTs, dateOnly, err = parseTime(end); err != nil {
		return r, fmt.Errorf("--end: %w", err)
	}
	if dateOnly && r.EndTs > 0 {
		r.EndTs += 86400 - 1
	}
	if r.StartTs > 0 && r.EndTs > 0 && r.StartTs > r.EndTs {
		return r, errors.New("--start is after --end")
	}
	return r, nil
}

// parseTime devuelve unix seconds; 0 si s está vacío.
func parseTime(s string) (int64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, false, fmt.Errorf("negative timestamp %d", n)
		}
		return n, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t.Unix(), true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), false, nil
	}
	return 0, false, fmt.Errorf("cannot parse %q as date, RFC3339 or unix seconds", s)
}

// normalizeAccounts valida y pasa a minúsculas las direcciones.
func normalizeAccounts(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if !isAddress(a) {
			return nil, fmt.Errorf("invalid account %q: want a 0x-prefixed 40 hex digit address", a)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

func isAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
