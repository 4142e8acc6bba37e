package jobset

import "errors"

// Error kinds shared by every stage.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransport indicates a network or protocol failure talking to the
	// catalog, the index, the batch system or the messaging sink.
	ErrTransport = errors.New("transport error")

	// ErrNotFound indicates an expected precondition is missing.
	ErrNotFound = errors.New("not found")

	// ErrSenderFault indicates an outbound message was rejected because of its
	// content. Resending cannot fix it.
	ErrSenderFault = errors.New("sender fault")

	// ErrSchemaViolation indicates a payload breached the jobset contract.
	ErrSchemaViolation = errors.New("schema violation")
)

// Human-readable job failure reasons. These are part of the jobset contract.
const (
	ReasonSceneNotFound       = "Scene does not exist"
	ReasonStateConfigNotFound = "Unable to find state config from submit_evaluate stage"
	ReasonSearchFailed        = "ES request failed"
	ReasonCatalogFailed       = "CMR request failed"
	ReasonSubmitRejected      = "SDS failed to accept job"
	ReasonSDSError            = "SDS threw an error"
)
