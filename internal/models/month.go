package models

// Month is a calendar month as sent to the remote API ("January" .. "December").
type Month string

var months = []Month{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Months returns the twelve months in calendar order.
func Months() []Month {
	out := make([]Month, len(months))
	copy(out, months)
	return out
}

// ParseMonth returns the month for a form value, or the empty month.
func ParseMonth(v string) Month {
	for _, m := range months {
		if string(m) == v {
			return m
		}
	}
	return ""
}

// Valid reports whether m is one of the twelve month names.
func (m Month) Valid() bool {
	return ParseMonth(string(m)) != ""
}
