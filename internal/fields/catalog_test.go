package fields

import "testing"

// The catalog size is load-bearing: extraction summaries report
// mapped + unmapped == total against it, and routing assumes every
// critical field is present. Changing the size is a breaking change.
func TestCatalogSize(t *testing.T) {
	t.Parallel()

	if got := Count(); got != 90 {
		t.Fatalf("Count() = %d, want 90", got)
	}
	if got := len(Names()); got != 90 {
		t.Fatalf("len(Names()) = %d, want 90", got)
	}
}

func TestCatalogNamesUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, Count())
	for _, name := range Names() {
		if seen[name] {
			t.Errorf("duplicate catalog entry %q", name)
		}
		seen[name] = true
	}
}

func TestCriticalFieldsAreInCatalog(t *testing.T) {
	t.Parallel()

	want := []string{
		"invoiceNumber",
		"invoiceDate",
		"totalAmount",
		"currency",
		"shipperName",
		"consigneeName",
	}

	names := CriticalNames()
	if len(names) != len(want) {
		t.Fatalf("CriticalNames() returned %d fields, want %d: %v", len(names), len(want), names)
	}
	for _, name := range want {
		if !IsCritical(name) {
			t.Errorf("IsCritical(%q) = false, want true", name)
		}
		if !Known(name) {
			t.Errorf("critical field %q missing from catalog", name)
		}
	}
	if IsCritical("bankName") {
		t.Error("IsCritical(\"bankName\") = true, want false")
	}
}

func TestPretrainedNamesResolveKnownFields(t *testing.T) {
	t.Parallel()

	for field, provider := range pretrainedNames {
		if !Known(field) {
			t.Errorf("pretrained lookup references unknown field %q", field)
		}
		if provider == "" {
			t.Errorf("pretrained lookup for %q has empty provider name", field)
		}
	}

	if name, ok := PretrainedName("invoiceNumber"); !ok || name != "InvoiceId" {
		t.Errorf("PretrainedName(invoiceNumber) = %q, %v; want InvoiceId, true", name, ok)
	}
	if _, ok := PretrainedName("vesselName"); ok {
		t.Error("PretrainedName(vesselName) should not resolve")
	}
}

func TestClassOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Class
	}{
		{"invoiceDate", ClassDate},
		{"arrivalDate", ClassDate},
		{"totalAmount", ClassAmount},
		{"freightCharge", ClassAmount},
		{"fuelSurcharge", ClassAmount},
		{"documentationFee", ClassAmount},
		{"taxRate", ClassAmount},
		{"amountDue", ClassAmount},
		{"amountPaid", ClassAmount},
		{"grossWeight", ClassWeight},
		{"chargeableWeight", ClassAmount},
		{"volumeWeight", ClassWeight},
		{"supplierVatNumber", ClassText},
		{"exchangeRate", ClassText},
		{"shipperName", ClassText},
		{"containerNumber", ClassText},
		{"currency", ClassText},
	}

	for _, tt := range tests {
		if got := ClassOf(tt.name); got != tt.want {
			t.Errorf("ClassOf(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
