package webhook

// Error codes carried in Response.ErrorCode. Every stage failure after
// signature validation maps to one of these; nothing surfaces as a 5xx to
// the delivering platform, because an undelivered acknowledgement triggers
// retries and duplicate processing.
const (
	ErrCodeValidation      = "validation_error"
	ErrCodeAgentProcessing = "agent_processing_error"
	ErrCodeOutboundSend    = "outbound_send_error"
	ErrCodeInternal        = "internal_error"
)

// Response is the JSON body returned for every webhook delivery.
type Response struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AgentResponded   bool   `json:"agent_responded"`
	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
}
