package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and storage layout for calendar dates
const DateLayout = "2006-01-02"

// Date is a calendar date normalised to UTC midnight
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in UTC
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return NewDate(t), nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*d = NewDate(v)
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case nil:
		*d = Date{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into Date", value)
}

// DateRange is a half-open range of nights [Start, End)
type DateRange struct {
	Start Date `json:"start_date"`
	End   Date `json:"end_date"`
}

// Valid reports whether the range is non-empty
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && r.Start.Before(r.End.Time)
}

// Overlaps reports whether two half-open ranges share at least one night
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.Before(other.End.Time) && other.Start.Before(r.End.Time)
}

// Within reports whether r lies entirely inside outer
func (r DateRange) Within(outer DateRange) bool {
	return !r.Start.Before(outer.Start.Time) && !r.End.After(outer.End.Time)
}

// Equal reports whether both ranges cover the same dates
func (r DateRange) Equal(other DateRange) bool {
	return r.Start.Equal(other.Start.Time) && r.End.Equal(other.End.Time)
}

// Nights returns the number of nights covered by the range
func (r DateRange) Nights() int {
	return int(r.End.Sub(r.Start.Time).Hours() / 24)
}
