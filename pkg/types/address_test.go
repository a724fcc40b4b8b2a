package types

import "testing"

func TestAddressValueAndScan(t *testing.T) {
	line2 := "  "
	addr := Address{Line1: " 1 Main St ", Line2: &line2, City: "Austin", State: "TX", PostalCode: "78701"}.Normalize()
	if addr.Country != "US" {
		t.Fatalf("expected default country, got %q", addr.Country)
	}
	if addr.Line2 != nil {
		t.Fatalf("expected blank line2 to be dropped")
	}

	val, err := addr.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var decoded Address
	if err := decoded.Scan([]byte(val.(string))); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if decoded.Line1 != "1 Main St" || decoded.City != "Austin" {
		t.Fatalf("unexpected decoded address %+v", decoded)
	}
}

func TestAddressValueRequiresFields(t *testing.T) {
	if _, err := (Address{City: "Austin"}).Value(); err == nil {
		t.Fatalf("expected missing line1 to fail")
	}
}
