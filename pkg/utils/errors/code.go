// Package errors provides the structured error codes used by the sage service.
//
// Error Code Format: AABBCCC (7 digits)
//
//   - AA:  Service/Module code (00-99)
//   - BB:  Category code (00-99)
//   - CCC: Sequence number (000-999)
//
// Service Codes (AA):
//
//   - 00: Common/Base errors
//   - 20: Sage retrieval and recommendation engine
//   - 90: Model providers (embedding, generation)
//
// Category Codes (BB):
//
//   - 00: Success
//   - 01: Request/Validation errors (400)
//   - 04: Resource errors (404)
//   - 07: Internal errors (500)
//   - 08: Storage errors (500)
//   - 10: Network/Upstream errors (502/503)
//   - 11: Timeout errors (504)
//   - 12: Configuration errors (500)
package errors

// Service codes (AA)
const (
	// ServiceCommon is for common/base errors shared by all modules.
	ServiceCommon = 0

	// ServiceSage is for the retrieval and recommendation engine.
	ServiceSage = 20

	// ServiceModel is for embedding and generation providers.
	ServiceModel = 90
)

// Category codes (BB)
const (
	CategorySuccess  = 0
	CategoryRequest  = 1
	CategoryResource = 4
	CategoryInternal = 7
	CategoryStorage  = 8
	CategoryNetwork  = 10
	CategoryTimeout  = 11
	CategoryConfig   = 12
)

// MakeCode creates an error code from service, category, and sequence.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	service = code / 100000
	category = (code % 100000) / 1000
	sequence = code % 1000
	return
}

// GetCategory returns the category code from an error code.
func GetCategory(code int) int {
	return (code % 100000) / 1000
}

// IsClientError checks if the error code indicates a client error (4xx).
func IsClientError(code int) bool {
	category := GetCategory(code)
	return category >= CategoryRequest && category <= CategoryResource
}

// IsServerError checks if the error code indicates a server error (5xx).
func IsServerError(code int) bool {
	category := GetCategory(code)
	return category >= CategoryInternal && category <= CategoryConfig
}
