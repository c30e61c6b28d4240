package clock

import (
	"time"
)

const layout = "2006-01-02T15:04:05Z"

func Now() string {
	return Format(time.Now())
}

// Format renders t in UTC using the API timestamp layout
func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// FormatPtr is Format for nullable timestamps, empty for nil
func FormatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return Format(*t)
}

// Clock is the time source used by components that compare against now;
// tests substitute a Fixed clock
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time {
	return f.T
}

func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
