package constants

// ReceiptStatus is the lifecycle status of a stored receipt (store these exact strings in DB).
type ReceiptStatus string

const (
	ReceiptStatusStored    ReceiptStatus = "STORED"
	ReceiptStatusProcessed ReceiptStatus = "PROCESSED" // linked to a ledger entry
)

// State is a pipeline state. Transitions only move forward.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateValidated        State = "VALIDATED"
	StateAuthenticated    State = "AUTHENTICATED"
	StateExtracted        State = "EXTRACTED"
	StateDuplicateChecked State = "DUPLICATE_CHECKED"
	StateStored           State = "STORED"
	StateAutoCreated      State = "AUTO_CREATED"
	StatePendingReview    State = "PENDING_REVIEW"
	StateRejected         State = "REJECTED"
)

// Rejection stages.
const (
	StageSize       = "size"
	StageMIME       = "mime"
	StageStructure  = "structure"
	StageSanitize   = "sanitize"
	StageScan       = "scan"
	StageAuthentic  = "authenticity"
	StageExtraction = "extraction"
)
