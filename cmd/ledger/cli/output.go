package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func row(tw *tabwriter.Writer, cols ...any) {
	parts := make([]string, len(cols))
	for i, c := range cols {
		switch v := c.(type) {
		case decimal.Decimal:
			parts[i] = accounting.FormatAmount(v)
		case time.Time:
			parts[i] = v.UTC().Format(time.DateOnly)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	fmt.Fprintln(tw, strings.Join(parts, "\t"))
}

// parseDate accepts a calendar date (2006-01-02).
func parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", accounting.ErrInvalidInput, raw)
	}
	return d, nil
}

// parseInstant accepts RFC 3339 or a calendar date; a bare date means the end
// of that day, so "as of 2024-01-31" includes everything posted on the 31st.
func parseInstant(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := parseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return accounting.EndOfDay(d), nil
}

// parseLine reads "CODE:debit|credit:AMOUNT[:description]".
func parseLine(raw string) (accounting.PostingLineInput, error) {
	parts := strings.SplitN(raw, ":", 4)
	if len(parts) < 3 {
		return accounting.PostingLineInput{}, fmt.Errorf("%w: line %q must be CODE:debit|credit:AMOUNT[:description]", accounting.ErrInvalidInput, raw)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
	if err != nil {
		return accounting.PostingLineInput{}, fmt.Errorf("%w: amount %q", accounting.ErrInvalidInput, parts[2])
	}
	line := accounting.PostingLineInput{
		AccountCode: strings.TrimSpace(parts[0]),
		Position:    accounting.Position(strings.ToLower(strings.TrimSpace(parts[1]))),
		Amount:      amount,
	}
	if len(parts) == 4 {
		line.Description = parts[3]
	}
	return line, nil
}
