package validate

import (
	"testing"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

func mapped(pairs map[string]string) []models.FieldMapping {
	out := make([]models.FieldMapping, 0, len(pairs))
	for name, value := range pairs {
		out = append(out, models.FieldMapping{
			FieldName: name,
			Value:     value,
			IsValid:   true,
		})
	}
	return out
}

func hasIssue(issues []models.ConsistencyIssue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestCheckConsistentInvoice(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "1041.67",
		"taxAmount":      "208.33",
		"totalAmount":    "1250.00",
		"taxRate":        "20.00",
		"currency":       "EUR",
		"invoiceDate":    "2026-07-01",
		"dueDate":        "2026-07-31",
	}))

	if !report.Valid {
		t.Fatalf("Valid = false, errors = %+v", report.Errors)
	}
	if report.NeedsReview {
		t.Errorf("NeedsReview = true, warnings = %+v", report.Warnings)
	}
	if report.Computed.ExpectedTotal != 1250.00 {
		t.Errorf("ExpectedTotal = %v, want 1250.00", report.Computed.ExpectedTotal)
	}
}

func TestCheckTotalMismatch(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "1000.00",
		"taxAmount":      "190.00",
		"totalAmount":    "1500.00",
		"currency":       "EUR",
	}))

	if report.Valid {
		t.Fatal("Valid = true for a 1500 total over a 1190 expectation")
	}
	if !hasIssue(report.Errors, "total_mismatch") {
		t.Errorf("errors = %+v, want total_mismatch", report.Errors)
	}
	for _, issue := range report.Errors {
		if issue.Code == "total_mismatch" {
			if issue.Expected != 1190.00 || issue.Actual != 1500.00 {
				t.Errorf("total_mismatch expected/actual = %v/%v, want 1190/1500",
					issue.Expected, issue.Actual)
			}
		}
	}
}

func TestCheckTotalWithinTolerance(t *testing.T) {
	t.Parallel()

	// Off by 10 on a 1200 total, well inside the 5% band.
	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "1000.00",
		"taxAmount":      "190.00",
		"totalAmount":    "1200.00",
		"currency":       "EUR",
	}))

	if !report.Valid {
		t.Errorf("Valid = false, errors = %+v", report.Errors)
	}
}

func TestCheckDiscountEntersTotal(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "1000.00",
		"taxAmount":      "190.00",
		"discountAmount": "100.00",
		"totalAmount":    "1090.00",
		"currency":       "EUR",
	}))

	if !report.Valid {
		t.Errorf("Valid = false, errors = %+v", report.Errors)
	}
	if report.Computed.ExpectedTotal != 1090.00 {
		t.Errorf("ExpectedTotal = %v, want 1090.00", report.Computed.ExpectedTotal)
	}
}

func TestCheckTaxAgainstRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tax       string
		wantError bool
	}{
		{"matching", "190.00", false},
		{"inside tolerance", "200.00", false},
		{"contradiction", "400.00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			report := New().Check(mapped(map[string]string{
				"subtotalAmount": "1000.00",
				"taxRate":        "19.00",
				"taxAmount":      tt.tax,
				"currency":       "EUR",
			}))
			if got := hasIssue(report.Errors, "tax_mismatch"); got != tt.wantError {
				t.Errorf("tax_mismatch = %v, want %v (errors %+v)", got, tt.wantError, report.Errors)
			}
		})
	}
}

func TestCheckImpliedTaxRate(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "1000.00",
		"taxAmount":      "450.00",
		"currency":       "EUR",
	}))

	if !report.Valid {
		t.Fatalf("Valid = false, errors = %+v", report.Errors)
	}
	if !hasIssue(report.Warnings, "tax_rate_unusual") {
		t.Errorf("warnings = %+v, want tax_rate_unusual", report.Warnings)
	}
	if report.Computed.ImpliedTaxRate != 45.00 {
		t.Errorf("ImpliedTaxRate = %v, want 45.00", report.Computed.ImpliedTaxRate)
	}
	if !report.NeedsReview {
		t.Error("NeedsReview = false with warnings present")
	}
}

func TestCheckChargesAgainstSubtotal(t *testing.T) {
	t.Parallel()

	t.Run("mismatch warns", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"freightCharge":  "700.00",
			"fuelSurcharge":  "100.00",
			"handlingCharge": "100.00",
			"subtotalAmount": "1000.00",
			"currency":       "EUR",
		}))
		if !hasIssue(report.Warnings, "charges_mismatch") {
			t.Errorf("warnings = %+v, want charges_mismatch", report.Warnings)
		}
		if report.Computed.ChargesSum != 900.00 {
			t.Errorf("ChargesSum = %v, want 900.00", report.Computed.ChargesSum)
		}
	})

	t.Run("matching sum passes", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"freightCharge":  "700.00",
			"fuelSurcharge":  "100.00",
			"handlingCharge": "100.00",
			"subtotalAmount": "900.00",
			"currency":       "EUR",
		}))
		if hasIssue(report.Warnings, "charges_mismatch") {
			t.Errorf("charges_mismatch raised for a matching sum: %+v", report.Warnings)
		}
	})

	t.Run("single charge is not a sum", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"freightCharge":  "700.00",
			"subtotalAmount": "1000.00",
			"currency":       "EUR",
		}))
		if hasIssue(report.Warnings, "charges_mismatch") {
			t.Errorf("charges_mismatch raised on one mapped charge: %+v", report.Warnings)
		}
	})
}

func TestCheckPayment(t *testing.T) {
	t.Parallel()

	t.Run("due exceeds total", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"totalAmount": "1000.00",
			"amountDue":   "1200.00",
			"currency":    "EUR",
		}))
		if !hasIssue(report.Warnings, "amount_due_exceeds_total") {
			t.Errorf("warnings = %+v, want amount_due_exceeds_total", report.Warnings)
		}
	})

	t.Run("split mismatch", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"totalAmount": "1000.00",
			"amountPaid":  "500.00",
			"amountDue":   "300.00",
			"currency":    "EUR",
		}))
		if !hasIssue(report.Warnings, "payment_split_mismatch") {
			t.Errorf("warnings = %+v, want payment_split_mismatch", report.Warnings)
		}
	})

	t.Run("clean split", func(t *testing.T) {
		t.Parallel()
		report := New().Check(mapped(map[string]string{
			"totalAmount": "1000.00",
			"amountPaid":  "600.00",
			"amountDue":   "400.00",
			"currency":    "EUR",
		}))
		if report.NeedsReview {
			t.Errorf("warnings = %+v for a clean split", report.Warnings)
		}
	})
}

func TestCheckDates(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"invoiceDate":   "2026-07-15",
		"dueDate":       "2026-07-01",
		"departureDate": "2026-06-20",
		"arrivalDate":   "2026-06-18",
	}))

	if !hasIssue(report.Errors, "due_before_invoice") {
		t.Errorf("errors = %+v, want due_before_invoice", report.Errors)
	}
	if !hasIssue(report.Warnings, "arrival_before_departure") {
		t.Errorf("warnings = %+v, want arrival_before_departure", report.Warnings)
	}
}

func TestCheckWeights(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"grossWeight":      "1000.00",
		"netWeight":        "1200.00",
		"volumeWeight":     "1500.00",
		"chargeableWeight": "800.00",
	}))

	if !hasIssue(report.Warnings, "net_exceeds_gross") {
		t.Errorf("warnings = %+v, want net_exceeds_gross", report.Warnings)
	}
	if !hasIssue(report.Warnings, "chargeable_below_basis") {
		t.Errorf("warnings = %+v, want chargeable_below_basis", report.Warnings)
	}
	if !report.Valid {
		t.Error("weight issues must stay warnings, not errors")
	}
}

func TestCheckMissingCurrency(t *testing.T) {
	t.Parallel()

	report := New().Check(mapped(map[string]string{
		"totalAmount": "1000.00",
	}))

	if !hasIssue(report.Warnings, "missing_currency") {
		t.Errorf("warnings = %+v, want missing_currency", report.Warnings)
	}
}

func TestCheckSkipsUnnormalizedValues(t *testing.T) {
	t.Parallel()

	// Values that failed normalization keep their raw shape and must
	// not produce verdicts.
	report := New().Check(mapped(map[string]string{
		"subtotalAmount": "about a thousand",
		"totalAmount":    "TBD",
		"invoiceDate":    "sometime in July",
		"currency":       "EUR",
	}))

	if !report.Valid || report.NeedsReview {
		t.Errorf("report = %+v, want clean for unparseable values", report)
	}
	if report.Computed.ExpectedTotal != 0 {
		t.Errorf("ExpectedTotal = %v, want 0", report.Computed.ExpectedTotal)
	}
}

func TestCheckIgnoresEmptyMappings(t *testing.T) {
	t.Parallel()

	report := New().Check([]models.FieldMapping{
		{FieldName: "totalAmount", IsEmpty: true, EmptyReason: "no value extracted"},
		{FieldName: "currency", IsEmpty: true, EmptyReason: "no value extracted"},
	})

	if !report.Valid || report.NeedsReview {
		t.Errorf("report = %+v, want clean for empty mappings", report)
	}
}
