package types

import "strings"

// Address is the postal snapshot embedded into orders at purchase time. Orders
// keep their own copy so later profile edits never rewrite history.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Normalize trims whitespace and applies the fallback country.
func (a Address) Normalize(defaultCountry string) Address {
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	if a.Country == "" {
		a.Country = defaultCountry
	}
	return a
}

// IsEmpty reports whether no address fields were supplied.
func (a Address) IsEmpty() bool {
	return a.Line1 == "" && a.Line2 == "" && a.City == "" &&
		a.State == "" && a.PostalCode == ""
}
