// Package validate cross-checks a run's mapped amount, date and weight
// fields against each other. Pattern validation judges each field in
// isolation; these checks catch the runs where every field looks fine
// on its own but the numbers cannot all be true at once.
package validate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// chargeFields are the itemized charge lines that should roughly sum to
// the subtotal when enough of them were mapped.
var chargeFields = []string{
	"freightCharge",
	"fuelSurcharge",
	"securitySurcharge",
	"handlingCharge",
	"documentationFee",
	"customsClearanceFee",
	"terminalHandlingCharge",
	"storageCharge",
	"insuranceCharge",
	"packingCharge",
	"deliveryCharge",
	"otherCharge",
}

// Checker runs tolerance-based consistency checks over mapped fields.
type Checker struct {
	tolerance decimal.Decimal
}

// New creates a checker with the default 5% tolerance. OCR misreads a
// digit often enough that exact equality would flag half of all clean
// invoices.
func New() *Checker {
	return &Checker{tolerance: decimal.NewFromFloat(0.05)}
}

// Check inspects one run's mappings and reports arithmetic and
// chronological contradictions. Fields that did not map, or whose value
// did not normalize to the expected shape, stay out of every check.
func (c *Checker) Check(mappings []models.FieldMapping) *models.ConsistencyReport {
	report := &models.ConsistencyReport{
		Valid:    true,
		Errors:   []models.ConsistencyIssue{},
		Warnings: []models.ConsistencyIssue{},
	}

	v := values{}
	for _, m := range mappings {
		if !m.IsEmpty && m.Value != "" {
			v[m.FieldName] = m.Value
		}
	}

	c.checkTotal(v, report)
	c.checkCharges(v, report)
	c.checkTax(v, report)
	c.checkPayment(v, report)
	c.checkDates(v, report)
	c.checkWeights(v, report)
	c.checkCurrency(v, report)

	report.Valid = len(report.Errors) == 0
	report.NeedsReview = len(report.Warnings) > 0
	return report
}

// checkTotal verifies the grand total against subtotal plus tax minus
// discount.
func (c *Checker) checkTotal(v values, report *models.ConsistencyReport) {
	subtotal, ok := v.amount("subtotalAmount")
	if !ok || !subtotal.IsPositive() {
		return
	}

	expected := subtotal
	if tax, ok := v.amount("taxAmount"); ok {
		expected = expected.Add(tax)
	}
	if discount, ok := v.amount("discountAmount"); ok {
		expected = expected.Sub(discount)
	}
	report.Computed.ExpectedTotal = round2(expected)

	total, ok := v.amount("totalAmount")
	if !ok || !total.IsPositive() {
		return
	}

	diff := total.Sub(expected).Abs()
	if diff.GreaterThan(total.Mul(c.tolerance)) {
		report.Errors = append(report.Errors, models.ConsistencyIssue{
			Field:    "totalAmount",
			Code:     "total_mismatch",
			Expected: round2(expected),
			Actual:   round2(total),
			Message:  "total does not match subtotal plus tax minus discount",
		})
	}
}

// checkCharges verifies the itemized charge lines against the subtotal.
// Needs at least two mapped charges; a single line is usually a partial
// extraction, not a contradiction.
func (c *Checker) checkCharges(v values, report *models.ConsistencyReport) {
	sum := decimal.Zero
	found := 0
	for _, name := range chargeFields {
		if charge, ok := v.amount(name); ok {
			sum = sum.Add(charge)
			found++
		}
	}
	if found < 2 {
		return
	}
	report.Computed.ChargesSum = round2(sum)

	subtotal, ok := v.amount("subtotalAmount")
	if !ok || !subtotal.IsPositive() {
		return
	}

	diff := sum.Sub(subtotal).Abs()
	if diff.GreaterThan(subtotal.Mul(c.tolerance)) {
		report.Warnings = append(report.Warnings, models.ConsistencyIssue{
			Field:    "subtotalAmount",
			Code:     "charges_mismatch",
			Expected: round2(sum),
			Actual:   round2(subtotal),
			Message:  "itemized charges do not add up to the subtotal",
		})
	}
}

// checkTax verifies the tax amount against the stated rate, or derives
// the implied rate when no rate was mapped.
func (c *Checker) checkTax(v values, report *models.ConsistencyReport) {
	subtotal, ok := v.amount("subtotalAmount")
	if !ok || !subtotal.IsPositive() {
		return
	}
	tax, ok := v.amount("taxAmount")
	if !ok {
		return
	}

	hundred := decimal.NewFromInt(100)
	if rate, ok := v.amount("taxRate"); ok && rate.IsPositive() {
		expected := subtotal.Mul(rate).Div(hundred)
		diff := tax.Sub(expected).Abs()
		if diff.GreaterThan(subtotal.Mul(c.tolerance)) {
			report.Errors = append(report.Errors, models.ConsistencyIssue{
				Field:    "taxAmount",
				Code:     "tax_mismatch",
				Expected: round2(expected),
				Actual:   round2(tax),
				Message:  "tax amount does not match the stated rate",
			})
		}
		return
	}

	if tax.IsPositive() {
		implied := tax.Mul(hundred).Div(subtotal)
		report.Computed.ImpliedTaxRate = round2(implied)
		if implied.GreaterThan(decimal.NewFromInt(30)) {
			report.Warnings = append(report.Warnings, models.ConsistencyIssue{
				Field:   "taxAmount",
				Code:    "tax_rate_unusual",
				Actual:  round2(implied),
				Message: "implied tax rate is above 30%",
			})
		}
	}
}

// checkPayment verifies that amount due and amount paid partition the
// total.
func (c *Checker) checkPayment(v values, report *models.ConsistencyReport) {
	total, ok := v.amount("totalAmount")
	if !ok || !total.IsPositive() {
		return
	}
	due, ok := v.amount("amountDue")
	if !ok {
		return
	}

	if due.GreaterThan(total.Mul(decimal.NewFromInt(1).Add(c.tolerance))) {
		report.Warnings = append(report.Warnings, models.ConsistencyIssue{
			Field:    "amountDue",
			Code:     "amount_due_exceeds_total",
			Expected: round2(total),
			Actual:   round2(due),
			Message:  "amount due is greater than the invoice total",
		})
	}

	if paid, ok := v.amount("amountPaid"); ok {
		diff := paid.Add(due).Sub(total).Abs()
		if diff.GreaterThan(total.Mul(c.tolerance)) {
			report.Warnings = append(report.Warnings, models.ConsistencyIssue{
				Field:    "amountDue",
				Code:     "payment_split_mismatch",
				Expected: round2(total),
				Actual:   round2(paid.Add(due)),
				Message:  "amount paid plus amount due does not match the total",
			})
		}
	}
}

// checkDates verifies document and voyage chronology.
func (c *Checker) checkDates(v values, report *models.ConsistencyReport) {
	if invoiced, ok := v.date("invoiceDate"); ok {
		if due, ok := v.date("dueDate"); ok && due.Before(invoiced) {
			report.Errors = append(report.Errors, models.ConsistencyIssue{
				Field:   "dueDate",
				Code:    "due_before_invoice",
				Message: "due date is before the invoice date",
			})
		}
	}

	// Arrival before departure can be a timezone artifact on short
	// flights, so it only warns.
	if departed, ok := v.date("departureDate"); ok {
		if arrived, ok := v.date("arrivalDate"); ok && arrived.Before(departed) {
			report.Warnings = append(report.Warnings, models.ConsistencyIssue{
				Field:   "arrivalDate",
				Code:    "arrival_before_departure",
				Message: "arrival date is before the departure date",
			})
		}
	}
}

// checkWeights verifies the weight hierarchy: net inside gross, and
// chargeable at least the greater of gross and volumetric weight.
func (c *Checker) checkWeights(v values, report *models.ConsistencyReport) {
	gross, hasGross := v.amount("grossWeight")
	if net, ok := v.amount("netWeight"); ok && hasGross && net.GreaterThan(gross) {
		report.Warnings = append(report.Warnings, models.ConsistencyIssue{
			Field:    "netWeight",
			Code:     "net_exceeds_gross",
			Expected: round2(gross),
			Actual:   round2(net),
			Message:  "net weight is greater than gross weight",
		})
	}

	chargeable, ok := v.amount("chargeableWeight")
	if !ok || !hasGross {
		return
	}
	basis := gross
	if volume, ok := v.amount("volumeWeight"); ok && volume.GreaterThan(basis) {
		basis = volume
	}
	if chargeable.LessThan(basis.Mul(decimal.NewFromInt(1).Sub(c.tolerance))) {
		report.Warnings = append(report.Warnings, models.ConsistencyIssue{
			Field:    "chargeableWeight",
			Code:     "chargeable_below_basis",
			Expected: round2(basis),
			Actual:   round2(chargeable),
			Message:  "chargeable weight is below the greater of gross and volumetric weight",
		})
	}
}

// checkCurrency flags monetary values that arrived without a currency.
func (c *Checker) checkCurrency(v values, report *models.ConsistencyReport) {
	if _, ok := v["currency"]; ok {
		return
	}
	for _, name := range []string{"totalAmount", "subtotalAmount", "taxAmount"} {
		if _, ok := v.amount(name); ok {
			report.Warnings = append(report.Warnings, models.ConsistencyIssue{
				Field:   "currency",
				Code:    "missing_currency",
				Message: "amounts mapped without a currency",
			})
			return
		}
	}
}

// values indexes the mapped, non-empty field values by name.
type values map[string]string

// amount parses a normalized monetary or weight value. Values that kept
// their raw shape because normalization failed do not parse and are
// skipped, which is the safe reading: garbage in, no verdict out.
func (v values) amount(name string) (decimal.Decimal, bool) {
	raw, ok := v[name]
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func (v values) date(name string) (time.Time, bool) {
	raw, ok := v[name]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
