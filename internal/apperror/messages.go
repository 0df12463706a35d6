package apperror

var messages = map[Code]string{
	CodeInvalidInput:       "invalid input",
	CodeNotFound:           "resource not found",
	CodeConfigurationError: "configuration error",
	CodeUnauthorized:       "unauthorized",
	CodeInternalError:      "internal error",
	CodeUnknownError:       "unknown error",
	CodeMarketplaceAuth:    "marketplace authentication failed",
	CodeMarketplaceError:   "marketplace request failed",
	CodeRateLimited:        "rate limit exceeded",
	CodeCircuitOpen:        "circuit breaker open",
	CodeNotifyFailed:       "notification delivery failed",
	CodeRunInProgress:      "an ingestion run is already in progress",
}
