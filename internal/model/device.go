package model

// Device is reference data owned by the asset registry. The engine only reads it,
// to tag output and to choose which devices a batch covers.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`       // e.g. "main_meter", "submeter"
	InstitutionID string `json:"institution_id"` // owning site/organisation
	Active        bool   `json:"active"`
}

// Resolved reports whether the category and institution are known.
func (d Device) Resolved() bool {
	return d.Category != "" && d.InstitutionID != ""
}
