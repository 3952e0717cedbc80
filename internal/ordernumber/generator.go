package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	prefixLayout = "060102"
	seqWidth     = 4
)

var ErrMalformedOrderNumber = errors.New("malformed order number")

// Generator hands out order numbers of the form YYMMDD followed by a
// zero-padded per-day sequence starting at 0001.
type Generator interface {
	Next(ctx context.Context, date time.Time) (string, error)
}

// Prefix is the YYMMDD part for date in loc.
func Prefix(date time.Time, loc *time.Location) string {
	if loc != nil {
		date = date.In(loc)
	}
	return date.Format(prefixLayout)
}

// Format renders a sequence for the day. Sequences above 9999 keep all their
// digits rather than wrapping.
func Format(date time.Time, loc *time.Location, seq int64) string {
	return Prefix(date, loc) + fmt.Sprintf("%0*d", seqWidth, seq)
}

// Sequence extracts the per-day sequence from an order number with the
// given prefix.
func Sequence(orderNumber, prefix string) (int64, error) {
	if !strings.HasPrefix(orderNumber, prefix) || len(orderNumber) < len(prefix)+seqWidth {
		return 0, fmt.Errorf("%w: %q", ErrMalformedOrderNumber, orderNumber)
	}
	seq, err := strconv.ParseInt(orderNumber[len(prefix):], 10, 64)
	if err != nil || seq < 1 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedOrderNumber, orderNumber)
	}
	return seq, nil
}
