package types

// CompletionRequest represents a completion request payload.
type CompletionRequest struct {
	// Required model identifier to route on.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Scheduling priority: "interactive" or "batch". Defaults to batch.
	// example: interactive
	Priority string `json:"priority,omitempty" example:"interactive"`
	// Per-request deadline in milliseconds, measured from admission.
	// 0 uses the server default.
	// example: 30000
	TimeoutMs int `json:"timeout_ms,omitempty" example:"30000"`
}

// CompletionResult is the terminal success payload for a routed request.
type CompletionResult struct {
	// Gateway-assigned request id.
	// example: 9f4c7b2e-8a1d-4f9e-9c2b-1d2e3f4a5b6c
	RequestID string `json:"request_id" example:"9f4c7b2e-8a1d-4f9e-9c2b-1d2e3f4a5b6c"`
	// Instance that served the request.
	// example: llama-a
	InstanceID string `json:"instance_id" example:"llama-a"`
	// Generated completion text.
	Content string `json:"content"`
	// Reason generation finished (stop, length, ...).
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Number of dispatch attempts made (1 = no retries).
	// example: 1
	Attempts int `json:"attempts" example:"1"`
	// End-to-end backend latency in milliseconds for the winning attempt.
	// example: 412
	LatencyMs int64 `json:"latency_ms" example:"412"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: queue full
	Error string `json:"error" example:"queue full"`
	// HTTP status code.
	// example: 429
	Code int `json:"code" example:"429"`
	// Instance ids attempted before failing, in order (retry exhaustion only).
	Attempted []string `json:"attempted,omitempty"`
}

// InstanceStatus summarizes one registered instance for /status.
type InstanceStatus struct {
	// Instance id.
	// example: llama-a
	ID string `json:"id" example:"llama-a"`
	// Model id it serves.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Base endpoint URL.
	// example: http://10.0.0.12:8081
	Endpoint string `json:"endpoint" example:"http://10.0.0.12:8081"`
	// Lifecycle status (healthy, unhealthy, draining, offline).
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Concurrent in-flight requests.
	// example: 2
	CurrentLoad int `json:"current_load" example:"2"`
	// Capacity ceiling.
	// example: 4
	MaxLoad int `json:"max_load" example:"4"`
	// Rolling average backend latency in milliseconds.
	// example: 385
	AvgLatencyMs int64 `json:"avg_latency_ms" example:"385"`
	// Total completed requests (success or failure).
	// example: 1042
	TotalRequests uint64 `json:"total_requests" example:"1042"`
	// Total failed requests.
	// example: 12
	ErrorCount uint64 `json:"error_count" example:"12"`
	// Last health probe time (unix seconds, 0 if never probed).
	// example: 1700000000
	LastHealthCheck int64 `json:"last_health_check_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// All registered instances.
	Instances []InstanceStatus `json:"instances"`
	// Pending entries currently held by the queue processor.
	// example: 3
	QueueDepth int `json:"queue_depth" example:"3"`
	// Admission ceiling for the queue.
	// example: 64
	MaxQueueDepth int `json:"max_queue_depth" example:"64"`
	// Requests dispatched to a backend since start.
	// example: 1890
	DispatchesTotal uint64 `json:"dispatches_total" example:"1890"`
	// Retry attempts since start.
	// example: 31
	RetriesTotal uint64 `json:"retries_total" example:"31"`
	// Requests that expired while queued or executing.
	// example: 7
	TimeoutsTotal uint64 `json:"timeouts_total" example:"7"`
	// Uptime of the gateway in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
