package validation

// PracticeModels lists the accepted practice model values.
var PracticeModels = []string{
	"Solo Practice",
	"Group Practice",
	"Hospital Employment",
	"Academic Medical Center",
	"Locum Tenens",
	"Telemedicine",
	"Other",
}

// ValidPracticeModel reports whether model is one of PracticeModels.
func ValidPracticeModel(model string) bool {
	for _, m := range PracticeModels {
		if m == model {
			return true
		}
	}
	return false
}
