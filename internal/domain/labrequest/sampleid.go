package labrequest

import "regexp"

var sampleIDPattern = regexp.MustCompile(`^LAB-[0-9]{6}$`)

// ValidateSampleID accepts exactly "LAB-" followed by six ASCII digits.
func ValidateSampleID(id string) error {
	if !sampleIDPattern.MatchString(id) {
		return ErrInvalidSampleIDFormat
	}
	return nil
}
