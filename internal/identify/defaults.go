package identify

import (
	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// DefaultForwarders are the built-in recognition patterns for the major
// carriers. They seed the database on first run and back identification
// when no catalog has been loaded yet. IDs are fixed so re-seeding stays
// idempotent.
func DefaultForwarders() []models.Forwarder {
	return []models.Forwarder{
		{
			ID:   uuid.MustParse("3c9e7d52-8f14-4a6b-9c01-5b2a8e4f7d36"),
			Name: "DHL Express",
			Code: "DHL",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"DHL", "DHL Express", "DHL Global Forwarding"},
				Keywords: []string{"express worldwide", "air waybill"},
				LogoText: []string{"dhl"},
			},
			IsActive: true,
		},
		{
			ID:   uuid.MustParse("a1f84c09-3d27-4e5b-8a96-7c0d1e2f3a4b"),
			Name: "FedEx",
			Code: "FEDEX",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"FedEx", "Federal Express", "FedEx Express"},
				Keywords: []string{"fedex ship manager", "international priority"},
				Formats:  []string{`\b\d{12}\b`},
				LogoText: []string{"fedex"},
			},
			IsActive: true,
		},
		{
			ID:   uuid.MustParse("5b2d9e6f-1a48-4c73-b085-9d6e3f2c1b0a"),
			Name: "UPS",
			Code: "UPS",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"UPS", "United Parcel Service"},
				Keywords: []string{"worldship", "ups supply chain"},
				Formats:  []string{`\b1Z[A-Z0-9]{16}\b`},
				LogoText: []string{"ups"},
			},
			IsActive: true,
		},
		{
			ID:   uuid.MustParse("8e4f1a2b-6c59-4d08-9b37-2a1e0d5c4f6e"),
			Name: "Maersk Line",
			Code: "MAERSK",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"Maersk", "Maersk Line", "A.P. Moller"},
				Keywords: []string{"bill of lading", "ocean freight"},
				Formats:  []string{`\bMSKU\d{7}\b`},
				LogoText: []string{"maersk"},
			},
			IsActive: true,
		},
		{
			ID:   uuid.MustParse("c7a3b5d1-9e26-4f84-a60b-3d8c2e1f0a59"),
			Name: "Mediterranean Shipping Company",
			Code: "MSC",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"MSC", "Mediterranean Shipping Company"},
				Keywords: []string{"container shipping", "sea waybill"},
				Formats:  []string{`\bMSCU\d{7}\b`},
				LogoText: []string{"msc"},
			},
			IsActive: true,
		},
		{
			ID:   uuid.MustParse("f0d6c8a4-2b15-4e97-8c3a-1f5e9d0b7a62"),
			Name: "SF Express",
			Code: "SF",
			Patterns: models.IdentificationPatterns{
				Names:    []string{"SF Express", "SF International"},
				Keywords: []string{"sf supply chain"},
				Formats:  []string{`\bSF\d{12}\b`},
				LogoText: []string{"sf express"},
			},
			IsActive: true,
		},
	}
}
