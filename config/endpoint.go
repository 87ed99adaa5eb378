package config

import "fmt"

// Mode selects where profiles are uploaded to.
type Mode string

const (
	// ModeAgentless uploads straight to the intake using an API key.
	ModeAgentless Mode = "agentless"
	// ModeAgent uploads through a local agent.
	ModeAgent Mode = "agent"
)

// Configuration is the resolved exporter configuration. Only the fields of
// the selected Mode are read.
type Configuration struct {
	Mode    Mode
	Site    string
	APIKey  string
	BaseURL string
}

// Endpoint is either Agentless or Agent.
type Endpoint interface {
	endpoint()
}

// Agentless uploads to intake.profile.<Site>.
type Agentless struct {
	Site   string
	APIKey string
}

// Agent uploads to a local agent reachable at BaseURL.
type Agent struct {
	BaseURL string
}

func (Agentless) endpoint() {}
func (Agent) endpoint()     {}

// Error reports a configuration that cannot be turned into an endpoint at all.
// It indicates a programming error in the caller rather than a runtime
// condition.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return "Failed to initialize transport: " + e.Msg
}

// ResolveEndpoint selects the endpoint variant for cfg. Field contents are
// checked later, when the exporter is built.
func ResolveEndpoint(cfg Configuration) (Endpoint, error) {
	switch cfg.Mode {
	case ModeAgentless:
		return Agentless{Site: cfg.Site, APIKey: cfg.APIKey}, nil
	case ModeAgent:
		return Agent{BaseURL: cfg.BaseURL}, nil
	default:
		return nil, &Error{Msg: fmt.Sprintf("Unexpected working mode %q, expected %s or %s",
			cfg.Mode, ModeAgentless, ModeAgent)}
	}
}

// ParseConfiguration checks the shape of a configuration tuple as received
// from a host: the mode first, then site and api key, or the agent base URL.
// mode converts the first element into a Mode and reports whether it could.
func ParseConfiguration(tuple []any, mode func(any) (Mode, bool)) (Configuration, error) {
	if len(tuple) == 0 {
		return Configuration{}, &Error{Msg: "empty configuration, expected a working mode"}
	}
	m, ok := mode(tuple[0])
	if !ok {
		return Configuration{}, &Error{Msg: fmt.Sprintf("working mode must be a symbol, got %T", tuple[0])}
	}

	cfg := Configuration{Mode: m}
	switch m {
	case ModeAgentless:
		site, err := stringAt(tuple, 1, "site")
		if err != nil {
			return Configuration{}, err
		}
		apiKey, err := stringAt(tuple, 2, "api_key")
		if err != nil {
			return Configuration{}, err
		}
		cfg.Site, cfg.APIKey = site, apiKey
	case ModeAgent:
		baseURL, err := stringAt(tuple, 1, "base_url")
		if err != nil {
			return Configuration{}, err
		}
		cfg.BaseURL = baseURL
	default:
		// Reported by ResolveEndpoint so both entry points share the message.
		if _, err := ResolveEndpoint(cfg); err != nil {
			return Configuration{}, err
		}
	}
	return cfg, nil
}

// FieldTypeError is returned when a configuration field has the wrong type.
type FieldTypeError struct {
	Field string
	Got   any
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("wrong argument type %T for %s (expected String)", e.Got, e.Field)
}

func stringAt(tuple []any, i int, field string) (string, error) {
	var v any
	if i < len(tuple) {
		v = tuple[i]
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldTypeError{Field: field, Got: v}
	}
	return s, nil
}
