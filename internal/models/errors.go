package models

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. The apperr, output and httpapi packages all
// render it, so it lives here to avoid an import cycle.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}
