package generator

import (
	"errors"
	"fmt"
)

// ErrUnknownDocumentType is returned for a document type outside the catalogue
var ErrUnknownDocumentType = errors.New("unknown document type")

// DocumentType is one kind of PMO document the generator can produce
type DocumentType struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	NameSv string `json:"name_sv"`
}

var documentTypes = []DocumentType{
	{ID: "weekly", Name: "Weekly Report", NameSv: "Veckorapport"},
	{ID: "meeting", Name: "Meeting Summary", NameSv: "Mötesprotokoll"},
	{ID: "risk", Name: "Risk Log", NameSv: "Risklogg"},
	{ID: "action", Name: "Action Log", NameSv: "Actionlogg"},
	{ID: "userstory", Name: "User Stories", NameSv: "User Stories"},
	{ID: "steering", Name: "Steering Slides", NameSv: "Styrgruppsslides"},
	{ID: "milestones", Name: "Milestones & Timeline", NameSv: "Milstolpar & Tidslinje"},
	{ID: "trends", Name: "Trends", NameSv: "Trender"},
	{ID: "project", Name: "Project Report", NameSv: "Projektrapport"},
}

// DocumentTypes returns the catalogue in display order
func DocumentTypes() []DocumentType {
	out := make([]DocumentType, len(documentTypes))
	copy(out, documentTypes)
	return out
}

// LookupDocumentType finds a document type by ID
func LookupDocumentType(id string) (DocumentType, error) {
	for _, dt := range documentTypes {
		if dt.ID == id {
			return dt, nil
		}
	}
	return DocumentType{}, fmt.Errorf("%w: %q", ErrUnknownDocumentType, id)
}

// SystemPrompt is the default instruction for a document type when the
// caller supplies none
func (d DocumentType) SystemPrompt() string {
	return fmt.Sprintf("Du är en erfaren PMO-assistent. Skapa en %s (%s) utifrån underlaget. "+
		"Svara i markdown med en H1-rubrik. Leverera först en OneNote-version och därefter "+
		"en Word-version under rubriken \"Word version:\".", d.NameSv, d.Name)
}
