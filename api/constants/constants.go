package constants

// Common error messages
const (
	ErrInvalidSession     = "invalid user_id or session"
	ErrInvalidJSON        = "invalid json or missing fields"
	ErrInvalidRequestBody = "Invalid request body"
	ErrDB                 = "DB error"
	ErrMethodNotAllowed   = "Method Not Allowed"
	ErrPleaseLogin        = "Please login to continue."
)

// Budget engine messages
const (
	ErrAlreadyEngaged        = "Une dépense a déjà été engagée pour cette demande"
	ErrJustificationTooShort = "Le passage en force exige une justification d'au moins %d caractères"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)

// Date formats
const (
	DateTimeFormat = "2006-01-02 15:04:05"
	DateFormat     = "2006-01-02"
)
