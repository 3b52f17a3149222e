// Package phone normalizes telephone identifiers to a canonical digit string
// so that tenant lookups match regardless of how a number was written.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Digits strips everything except ASCII digits.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the canonical digit form of raw. A leading "00"
// international prefix is dropped. When region is set (for example "MA") and
// the number parses as a valid national number of that region, it is
// rewritten with the country code, so "0612345678" and "+212 6-12-34-56-78"
// both become "212612345678".
func Normalize(raw, region string) string {
	digits := Digits(raw)
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	if digits == "" || region == "" {
		return digits
	}

	region = strings.ToUpper(region)
	cc := phonenumbers.GetCountryCodeForRegion(region)
	if cc == 0 {
		return digits
	}

	// Already international for this region.
	if num, err := phonenumbers.Parse("+"+digits, region); err == nil && phonenumbers.IsValidNumber(num) {
		return Digits(phonenumbers.Format(num, phonenumbers.E164))
	}
	if num, err := phonenumbers.Parse(digits, region); err == nil && phonenumbers.IsValidNumberForRegion(num, region) {
		return Digits(phonenumbers.Format(num, phonenumbers.E164))
	}
	return digits
}

// Equal reports whether a and b normalize to the same digits.
func Equal(a, b, region string) bool {
	na := Normalize(a, region)
	return na != "" && na == Normalize(b, region)
}
