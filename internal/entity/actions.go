package entity

import (
	"fmt"
	"net/http"
)

// Action returns the action a record asks for
func Action(rec *Record) string {
	return rec.String("action")
}

type integrationActionHandler struct {
	versioned
}

func newIntegrationActionHandler(opts Options) *integrationActionHandler {
	return &integrationActionHandler{versioned: versioned{
		base:           newBase("integration_actions", opts, "integrationId", "integration_id", "id"),
		versionPaths:   []string{"version", "integration_version"},
		defaultVersion: DefaultIntegrationVersion,
	}}
}

func (h *integrationActionHandler) BuildAction(action, id string, rec *Record) (*Plan, error) {
	switch action {
	case "activate":
		return newPlan(OpAction, activationRequest(id, "ACTIVATED")), nil
	case "deactivate":
		return newPlan(OpAction, activationRequest(id, "CONFIGURED")), nil
	case "test":
		body := payload{}.set("payload", rec.Value("payload", "test_payload"))
		return newPlan(OpAction, jsonRequest(http.MethodPost, path("integrations", id, "test"), body)), nil
	case "clone":
		code := rec.String("new_code", "newCode", "clone_code")
		if code == "" {
			return nil, missing(h.stream, "new_code")
		}
		version := rec.String("new_version", "newVersion")
		if version == "" {
			version = DefaultIntegrationVersion
		}
		name := rec.String("new_name", "newName")
		if name == "" {
			name = code
		}
		body := payload{"code": code, "version": version, "name": name}.
			set("description", rec.Value("description"))
		return newPlan(OpAction, jsonRequest(http.MethodPost, path("integrations", id, "clone"), body)), nil
	default:
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownAction, action, h.stream)
	}
}

type connectionActionHandler struct {
	base
}

func newConnectionActionHandler(opts Options) *connectionActionHandler {
	return &connectionActionHandler{base: newBase("connection_actions", opts, "connectionId", "connection_id", "id")}
}

func (h *connectionActionHandler) BuildAction(action, id string, _ *Record) (*Plan, error) {
	switch action {
	case "test":
		return newPlan(OpAction, jsonRequest(http.MethodPost, path("connections", id, "test"), nil)), nil
	case "refresh_metadata":
		return newPlan(OpAction, jsonRequest(http.MethodPost, path("connections", id, "metadata"), nil)), nil
	default:
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownAction, action, h.stream)
	}
}
