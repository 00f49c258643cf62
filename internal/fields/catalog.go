// Package fields owns the standardized field catalog: the fixed set of 90
// field names every extraction run must account for, the critical subset
// used by routing, the provider pre-extracted name lookup, and the value
// classes that drive normalization.
package fields

import "strings"

// catalog is the full ordered list of standardized invoice fields. The
// mapper emits exactly one FieldMapping per entry; tests pin the size.
var catalog = []string{
	// Document
	"invoiceNumber",
	"invoiceDate",
	"dueDate",
	"invoiceType",
	"purchaseOrderNumber",
	"paymentTerms",
	"documentReference",

	// Supplier and billing
	"supplierName",
	"supplierAddress",
	"supplierVatNumber",
	"supplierContact",
	"supplierEmail",
	"supplierPhone",
	"customerName",
	"customerAddress",
	"customerVatNumber",
	"billingAddress",

	// Freight parties
	"shipperName",
	"shipperAddress",
	"shipperContact",
	"consigneeName",
	"consigneeAddress",
	"consigneeContact",
	"notifyPartyName",
	"notifyPartyAddress",
	"carrierName",
	"carrierCode",
	"agentName",
	"agentCode",

	// Shipment and routing
	"originPort",
	"destinationPort",
	"portOfLoading",
	"portOfDischarge",
	"placeOfReceipt",
	"placeOfDelivery",
	"vesselName",
	"voyageNumber",
	"flightNumber",
	"departureDate",
	"arrivalDate",
	"transportMode",
	"routeDescription",
	"transshipmentPort",

	// Cargo
	"containerNumber",
	"containerType",
	"containerCount",
	"sealNumber",
	"packageCount",
	"packageType",
	"grossWeight",
	"netWeight",
	"chargeableWeight",
	"volumeWeight",
	"totalVolume",
	"commodityDescription",

	// References
	"billOfLadingNumber",
	"airWaybillNumber",
	"bookingNumber",
	"jobNumber",
	"shipmentNumber",
	"trackingNumber",
	"customsEntryNumber",
	"exportLicenseNumber",
	"letterOfCreditNumber",
	"contractNumber",

	// Charges
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
	"discountAmount",

	// Totals and payment
	"subtotalAmount",
	"taxAmount",
	"taxRate",
	"totalAmount",
	"amountDue",
	"amountPaid",
	"currency",
	"exchangeRate",
	"incoterm",
	"paymentMethod",
	"bankAccountNumber",
	"bankName",
}

// critical are the fields whose individual failure can override an
// otherwise-high overall confidence during routing.
var critical = map[string]bool{
	"invoiceNumber": true,
	"invoiceDate":   true,
	"totalAmount":   true,
	"currency":      true,
	"shipperName":   true,
	"consigneeName": true,
}

// pretrainedNames maps standardized fields to the names the document
// intelligence provider uses for its pre-extracted invoice fields.
var pretrainedNames = map[string]string{
	"invoiceNumber":       "InvoiceId",
	"invoiceDate":         "InvoiceDate",
	"dueDate":             "DueDate",
	"purchaseOrderNumber": "PurchaseOrder",
	"subtotalAmount":      "SubTotal",
	"taxAmount":           "TotalTax",
	"totalAmount":         "InvoiceTotal",
	"amountDue":           "AmountDue",
	"currency":            "CurrencyCode",
	"supplierName":        "VendorName",
	"supplierAddress":     "VendorAddress",
	"customerName":        "CustomerName",
	"customerAddress":     "CustomerAddress",
	"billingAddress":      "BillingAddress",
}

// Names returns the ordered catalog. Callers must not mutate it.
func Names() []string {
	return catalog
}

// Count returns the catalog size
func Count() int {
	return len(catalog)
}

// Known reports whether name is part of the catalog
func Known(name string) bool {
	for _, f := range catalog {
		if f == name {
			return true
		}
	}
	return false
}

// IsCritical reports whether name belongs to the critical set
func IsCritical(name string) bool {
	return critical[name]
}

// CriticalNames returns the critical fields in catalog order
func CriticalNames() []string {
	out := make([]string, 0, len(critical))
	for _, f := range catalog {
		if critical[f] {
			out = append(out, f)
		}
	}
	return out
}

// PretrainedName resolves the provider's pre-extracted field name for a
// standardized field, if one exists.
func PretrainedName(field string) (string, bool) {
	name, ok := pretrainedNames[field]
	return name, ok
}

// Class is the value class a field belongs to for normalization
type Class int

const (
	ClassText Class = iota
	ClassDate
	ClassAmount
	ClassWeight
)

// amountHints mark fields that carry monetary values. Matched as
// substrings of the lowercased field name, amounts before weights so
// that chargeableWeight and friends normalize like amounts.
var amountHints = []string{"amount", "charge", "fee", "cost", "total", "price", "duty", "tax"}

// ClassOf derives a field's value class from its name
func ClassOf(name string) Class {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "date") {
		return ClassDate
	}
	for _, hint := range amountHints {
		if strings.Contains(lower, hint) {
			return ClassAmount
		}
	}
	if strings.Contains(lower, "weight") {
		return ClassWeight
	}
	return ClassText
}
