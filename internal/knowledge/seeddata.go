package knowledge

// DefaultFAQ is the built-in seed content for the practice knowledge base.
var DefaultFAQ = map[string]string{
	"hours":        "We are open Monday through Friday from 8:00 AM to 5:00 PM. We are closed on weekends.",
	"location":     "We are located at 123 Valley Blvd, Suite 200, within the Medical Arts Building.",
	"phone":        "Our phone number is (555) 867-5309.",
	"insurance":    "We accept most major insurance plans including Aetna, Blue Cross, United Healthcare, Cigna, and Medicare.",
	"new_patient":  "New patients should arrive 15 minutes early and bring their photo ID and insurance card.",
	"cancellation": "We require 24 hours notice for cancellations to avoid a missed appointment fee.",
	"parking":      "Free parking is available in the garage behind the building.",
}
