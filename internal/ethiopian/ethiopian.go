// Package ethiopian converts between the Gregorian and Ethiopian (Ge'ez)
// calendars. The Ethiopian calendar has twelve 30-day months plus Pagume,
// a 13th month of five or six days. Conversion goes through the Julian Day
// Number so both directions share one day count.
package ethiopian

import (
	"fmt"
	"time"
)

// ethiopicEpoch is the JDN of the Ethiopic (Amete Mihret) epoch.
const ethiopicEpoch = 1723856

// Date is an Ethiopian calendar date. It is always derived from a Gregorian
// date of record, never stored as an independent source of truth.
type Date struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	MonthName string `json:"month_name"`
}

var monthNames = [13]string{
	"Meskerem",
	"Tikimt",
	"Hidar",
	"Tahsas",
	"Tir",
	"Yekatit",
	"Megabit",
	"Miazia",
	"Ginbot",
	"Sene",
	"Hamle",
	"Nehase",
	"Pagume",
}

func (d Date) String() string {
	return fmt.Sprintf("%s %d, %d", d.MonthName, d.Day, d.Year)
}

// ToEthiopian converts a Gregorian calendar date to its Ethiopian
// representation. The time-of-day and location of t are ignored beyond
// selecting the calendar day.
func ToEthiopian(t time.Time) Date {
	jdn := gregorianToJDN(t.Year(), int(t.Month()), t.Day())

	elapsed := jdn - ethiopicEpoch
	cycle := elapsed / 1461 // full 4-year leap cycles since the epoch
	r := elapsed % 1461

	// r == 1460 is the last day of a leap cycle (Pagume 6); without the
	// correction the year formula would roll over one day early.
	year := 4*cycle + r/365 - r/1460
	n := r%365 + 365*(r/1460)

	month := n/30 + 1
	day := n%30 + 1

	if month > 13 {
		month = 1
		year++
	}

	return Date{
		Year:      year,
		Month:     month,
		Day:       day,
		MonthName: MonthName(month),
	}
}

// ToGregorian converts an Ethiopian date back to the Gregorian calendar,
// at midnight UTC. The inverse of ToEthiopian for any valid Ethiopian date.
func ToGregorian(year, month, day int) time.Time {
	jdn := ethiopicEpoch + 365 + 365*(year-1) + year/4 + 30*month + day - 31
	gy, gm, gd := jdnToGregorian(jdn)
	return time.Date(gy, time.Month(gm), gd, 0, 0, 0, 0, time.UTC)
}

// MonthName returns the name of an Ethiopian month (1-13), or "" when the
// month is out of range.
func MonthName(month int) string {
	if month < 1 || month > 13 {
		return ""
	}
	return monthNames[month-1]
}

// DaysInMonth returns the length of an Ethiopian month. Months 1-12 have 30
// days; Pagume has 6 days when year mod 4 == 3, else 5. The modulus constant
// differs from the Gregorian cycle because the epochs are offset.
func DaysInMonth(month, year int) int {
	if month == 13 {
		if year%4 == 3 {
			return 6
		}
		return 5
	}
	return 30
}

// SameDay reports whether two Ethiopian dates fall on the same calendar day.
func SameDay(a, b Date) bool {
	return a.Day == b.Day && a.Month == b.Month && a.Year == b.Year
}

// gregorianToJDN implements the standard civil-calendar-to-JDN formula.
func gregorianToJDN(year, month, day int) int {
	a := (14 - month) / 12
	y := year + 4800 - a
	m := month + 12*a - 3
	return day + (153*m+2)/5 + 365*y + y/4 - y/100 + y/400 - 32045
}

func jdnToGregorian(jdn int) (year, month, day int) {
	a := jdn + 32044
	b := (4*a + 3) / 146097
	c := a - 146097*b/4
	d := (4*c + 3) / 1461
	e := c - 1461*d/4
	m := (5*e + 2) / 153

	day = e - (153*m+2)/5 + 1
	month = m + 3 - 12*(m/10)
	year = 100*b + d - 4800 + m/10
	return year, month, day
}
