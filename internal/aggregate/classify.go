package aggregate

import (
	"strings"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// Classification is the regulatory status derived from a product name.
type Classification struct {
	PrescriptionRequired model.TriState
	MarkingPresent       model.TriState
}

// KeywordTable lists substances known to be sold over the counter and
// substances known to require a prescription. Keywords match as substrings
// of the normalized product name.
type KeywordTable struct {
	OTC          []string `yaml:"otc"`
	Prescription []string `yaml:"prescription"`
}

// DefaultKeywords is used when no table is configured.
var DefaultKeywords = KeywordTable{
	OTC: []string{
		"paracetamol", "paratsetamol", "парацетамол",
		"ibuprofen", "ибупрофен",
		"cetirizine", "setirizin", "цетиризин",
		"loratadin", "лоратадин",
		"acetylsalicylic", "aspirin", "аспирин",
		"ascorbic", "askorbin", "аскорбин",
	},
	Prescription: []string{
		"amoxicillin", "amoksitsillin", "амоксициллин",
		"azithromycin", "azitromitsin", "азитромицин",
		"ciprofloxacin", "ципрофлоксацин",
		"omeprazol", "омепразол",
		"metformin", "метформин",
		"insulin", "инсулин",
		"tramadol", "трамадол",
		"diazepam", "диазепам",
	},
}

// Classify checks the OTC list first, then the prescription list. A name
// matching neither stays Unknown on both fields. Over-the-counter products
// carry no marking obligation; prescription products do.
func (t KeywordTable) Classify(displayName string) Classification {
	name := textnorm.Normalize(displayName)
	if name == "" {
		return Classification{}
	}
	if matchAny(name, t.OTC) {
		return Classification{PrescriptionRequired: model.No, MarkingPresent: model.No}
	}
	if matchAny(name, t.Prescription) {
		return Classification{PrescriptionRequired: model.Yes, MarkingPresent: model.Yes}
	}
	return Classification{}
}

func matchAny(name string, keywords []string) bool {
	for _, k := range keywords {
		k = textnorm.Normalize(k)
		if k != "" && strings.Contains(name, k) {
			return true
		}
	}
	return false
}
