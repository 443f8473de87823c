package model

// ValidationResult is the outcome of a live credential check. Unreachable
// distinguishes a provider that could not be contacted from one that
// rejected the credential; both leave Valid false.
type ValidationResult struct {
	Valid       bool
	Message     string
	Unreachable bool
	Metadata    map[string]string
}
