package tools

// Name identifies one of the closed set of agent-invocable tools.
type Name string

const (
	ToolVerifyPatient       Name = "verify_patient"
	ToolListProviders       Name = "list_providers"
	ToolGetAvailability     Name = "get_availability"
	ToolBookAppointment     Name = "book_appointment"
	ToolCheckInsurance      Name = "check_insurance"
	ToolSearchKnowledgeBase Name = "search_knowledge_base"
)

// Property describes one tool parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Parameters is a JSON-schema object description of a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Schema is the published contract for one tool, in the function-calling
// shape the agent integration expects.
type Schema struct {
	Name        Name       `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Schemas returns the published tool contracts. The dispatcher validates
// its handler table against this list at startup.
func Schemas() []Schema {
	return []Schema{
		{
			Name:        ToolVerifyPatient,
			Description: "Verify a caller's identity by looking up their name and date of birth in the EHR system. Use this BEFORE any other EHR tools.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"name":          {Type: "string", Description: "The patient's full name, e.g. 'John Smith'"},
					"date_of_birth": {Type: "string", Description: "The patient's date of birth in YYYY-MM-DD format, e.g. '1990-05-15'"},
				},
				Required: []string{"name", "date_of_birth"},
			},
		},
		{
			Name:        ToolListProviders,
			Description: "List all available healthcare providers/doctors in the practice. Use this when the patient wants to know who they can see.",
			Parameters: Parameters{
				Type:       "object",
				Properties: map[string]Property{},
				Required:   []string{},
			},
		},
		{
			Name:        ToolGetAvailability,
			Description: "Get available appointment slots for a specific provider within a date range. Requires identity verification first.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"provider_id": {Type: "string", Description: "The unique ID of the healthcare provider/doctor."},
					"start_date":  {Type: "string", Description: "Start date for availability search in YYYY-MM-DD format."},
					"end_date":    {Type: "string", Description: "End date for availability search in YYYY-MM-DD format."},
				},
				Required: []string{"provider_id", "start_date", "end_date"},
			},
		},
		{
			Name:        ToolBookAppointment,
			Description: "Book an appointment for the verified patient in a specific time slot. ALWAYS confirm details with the patient before calling this.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"slot_id": {Type: "string", Description: "The ID of the available time slot to book."},
					"visit_type": {
						Type:        "string",
						Enum:        []string{"routine", "urgent", "checkup", "followup"},
						Description: "Type of visit. Map patient language: 'check-up'/'annual' -> checkup, 'follow-up' -> followup, 'sick visit' -> urgent, otherwise -> routine.",
					},
				},
				Required: []string{"slot_id", "visit_type"},
			},
		},
		{
			Name:        ToolCheckInsurance,
			Description: "Check insurance coverage for the verified patient. Requires identity verification first.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"plan_id": {Type: "string", Description: "The insurance plan ID to verify coverage against."},
				},
				Required: []string{"plan_id"},
			},
		},
		{
			Name:        ToolSearchKnowledgeBase,
			Description: "Answer general questions about the medical practice (hours, location, insurance, policies). Does NOT require verification.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "The user's question, e.g. 'What are your hours?' or 'Do you take Aetna?'"},
				},
				Required: []string{"query"},
			},
		},
	}
}
