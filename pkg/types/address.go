package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is the shipping address snapshot stored on an order as JSON.
type Address struct {
	Name       string  `json:"name,omitempty"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country,omitempty"`
	Phone      string  `json:"phone,omitempty"`
}

// Normalize trims fields and defaults the country.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "US"
	}
	if a.Line2 != nil {
		line2 := strings.TrimSpace(*a.Line2)
		if line2 == "" {
			a.Line2 = nil
		} else {
			a.Line2 = &line2
		}
	}
	return a
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.State) == "" {
		return fmt.Errorf("address: missing state")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("address: missing postal_code")
	}
	return nil
}

// Value marshals Address into JSON for a jsonb column.
func (a Address) Value() (driver.Value, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan decodes the JSON snapshot.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, a)
}
