package domain

import dErrors "kycflow/pkg/domain-errors"

// DocumentType identifies which identity document a session verifies.
// Invariant: the value must be one of the supported document types.
//
// Usage: construct via ParseDocumentType at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type DocumentType string

const (
	DocumentAadhaar        DocumentType = "aadhaar"
	DocumentPAN            DocumentType = "pan"
	DocumentDrivingLicense DocumentType = "driving_license"
	DocumentVoterID        DocumentType = "voter_id"
	DocumentPassport       DocumentType = "passport"
)

var validDocumentTypes = map[DocumentType]bool{
	DocumentAadhaar:        true,
	DocumentPAN:            true,
	DocumentDrivingLicense: true,
	DocumentVoterID:        true,
	DocumentPassport:       true,
}

// ParseDocumentType constructs a DocumentType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseDocumentType(s string) (DocumentType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "document type cannot be empty")
	}
	d := DocumentType(s)
	if !d.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported document type: "+s)
	}
	return d, nil
}

func (d DocumentType) IsValid() bool {
	return validDocumentTypes[d]
}

func (d DocumentType) String() string {
	return string(d)
}
