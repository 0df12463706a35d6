package apperror

// Code identifies a class of failure across package boundaries.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"

	// Marketplace
	CodeMarketplaceAuth  Code = "MARKETPLACE_AUTH_FAILED"
	CodeMarketplaceError Code = "MARKETPLACE_ERROR"
	CodeRateLimited      Code = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen      Code = "CIRCUIT_OPEN"

	// Notifications
	CodeNotifyFailed Code = "NOTIFY_FAILED"

	// Ingestion
	CodeRunInProgress Code = "RUN_IN_PROGRESS"
)
