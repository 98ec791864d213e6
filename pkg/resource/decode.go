package resource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrDataShape matches every DataShapeError via errors.Is.
var ErrDataShape = errors.New("unexpected vendor response shape")

// DataShapeError reports a vendor payload that does not fit the typed record.
type DataShapeError struct {
	Vendor string
	Kind   Kind
	// Index is the position of the offending item, or -1 for the payload itself.
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *DataShapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", e.Vendor, e.Kind)
	if e.Index >= 0 {
		fmt.Fprintf(&b, "[%d]", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DataShapeError) Is(target error) bool { return target == ErrDataShape }

func (e *DataShapeError) Unwrap() error { return e.Err }

// ShapeError builds a payload-level DataShapeError.
func ShapeError(vendor string, kind Kind, reason string, err error) *DataShapeError {
	return &DataShapeError{Vendor: vendor, Kind: kind, Index: -1, Reason: reason, Err: err}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, zone-less ISO 8601, dates, and unix
// seconds or milliseconds given as digits.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FromUnix(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// FromUnix converts seconds or milliseconds since the epoch.
func FromUnix(n int64) time.Time {
	// Anything past 1e11 seconds is year 5138; treat it as milliseconds.
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// Decoder validates one vendor item at a time and keeps the first failure,
// so fetchers can read every field and check Err once.
type Decoder struct {
	Vendor string
	Kind   Kind
	index  int
	err    error
}

// NewDecoder starts a decoder for a vendor/kind payload.
func NewDecoder(vendor string, kind Kind) *Decoder {
	return &Decoder{Vendor: vendor, Kind: kind, index: -1}
}

// At sets the item index used in subsequent errors.
func (d *Decoder) At(i int) *Decoder {
	d.index = i
	return d
}

func (d *Decoder) fail(field, reason string, err error) {
	if d.err != nil {
		return
	}
	d.err = &DataShapeError{Vendor: d.Vendor, Kind: d.Kind, Index: d.index, Field: field, Reason: reason, Err: err}
}

// Require returns value and records an error when it is empty.
func (d *Decoder) Require(field, value string) string {
	if strings.TrimSpace(value) == "" {
		d.fail(field, "missing required field", nil)
	}
	return value
}

// Time parses a required timestamp.
func (d *Decoder) Time(field, value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		d.fail(field, "missing required timestamp", nil)
		return nil
	}
	return d.OptionalTime(field, value)
}

// OptionalTime parses a timestamp that may be absent.
func (d *Decoder) OptionalTime(field, value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := ParseTimestamp(value)
	if err != nil {
		d.fail(field, "invalid timestamp", err)
		return nil
	}
	return &t
}

// Unix converts an epoch value; zero or negative means absent.
func (d *Decoder) Unix(field string, n int64, required bool) *time.Time {
	if n <= 0 {
		if required {
			d.fail(field, "missing required timestamp", nil)
		}
		return nil
	}
	t := FromUnix(n)
	return &t
}

// Fail records an arbitrary shape failure for field.
func (d *Decoder) Fail(field, reason string) {
	d.fail(field, reason, nil)
}

// Err returns the first recorded failure, or nil.
func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return d.err
}
