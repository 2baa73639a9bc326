package types

// InstanceSpec describes a backend inference server to register with the gateway.
type InstanceSpec struct {
	// Stable identifier for the instance.
	// example: llama-a
	ID string `json:"id" yaml:"id" toml:"id" example:"llama-a"`
	// Model identifier this instance serves.
	// example: tinyllama-q4
	Model string `json:"model" yaml:"model" toml:"model" example:"tinyllama-q4"`
	// Base URL of the instance's HTTP endpoint.
	// example: http://10.0.0.12:8081
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint" example:"http://10.0.0.12:8081"`
	// Maximum concurrent in-flight requests the instance accepts.
	// example: 4
	MaxLoad int `json:"max_load" yaml:"max_load" toml:"max_load" example:"4"`
}

// Priority orders queued requests. Higher drains first.
type Priority int

const (
	PriorityBatch       Priority = 0
	PriorityInteractive Priority = 10
)

// ParsePriority maps the wire-level priority string to a Priority.
// Unknown or empty values fall back to batch.
func ParsePriority(s string) Priority {
	if s == "interactive" {
		return PriorityInteractive
	}
	return PriorityBatch
}
