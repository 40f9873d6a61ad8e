package models

import "strings"

type Address struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	HouseNo   string  `json:"house_no"`
	Address1  string  `json:"address1"`
	Address2  string  `json:"address2"`
	City      string  `json:"city"`
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Line joins the non-empty address parts for display.
func (a Address) Line() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.HouseNo, a.Address1, a.Address2, a.City, a.Postcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
