package entity

import (
	"net/http"

	"github.com/stacklok/oic-target/internal/httpclient"
)

const defaultIntegrationPattern = "ORCHESTRATION"

type integrationHandler struct {
	versioned
	activate bool
}

func newIntegrationHandler(opts Options) *integrationHandler {
	return &integrationHandler{
		versioned: versioned{
			base:           newBase("integrations", opts, "id", "code"),
			versionPaths:   []string{"version"},
			defaultVersion: DefaultIntegrationVersion,
		},
		activate: opts.ActivateIntegrations,
	}
}

func (*integrationHandler) ExistencePath(id string) string {
	return path("integrations", id)
}

// BuildCreate imports the archive when the record has one, otherwise creates
// an empty integration shell
func (h *integrationHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	plan, ok, err := h.archivePlan(OpCreate, http.MethodPost, id, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		code, version := splitVersioned(id)
		name := rec.String("name")
		if name == "" {
			name = code
		}
		pattern := rec.String("pattern")
		if pattern == "" {
			pattern = defaultIntegrationPattern
		}
		body := payload{"name": name, "identifier": code, "version": version, "pattern": pattern}.
			set("description", rec.Value("description"))
		plan = newPlan(OpCreate, jsonRequest(http.MethodPost, path("integrations"), body))
	}
	return h.withActivation(plan, id), nil
}

func (*integrationHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.set("description", rec.Value("description"))
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("integrations", id), body)), nil
}

// BuildReplace re-imports an existing integration from its archive
func (h *integrationHandler) BuildReplace(id string, rec *Record) (*Plan, bool, error) {
	plan, ok, err := h.archivePlan(OpUpdate, http.MethodPut, id, rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return h.withActivation(plan, id), true, nil
}

func (h *integrationHandler) archivePlan(op Operation, method, id string, rec *Record) (*Plan, bool, error) {
	code, _ := splitVersioned(id)
	archive, ok, err := archiveFrom(rec, h.stream, id, code+".iar")
	if err != nil || !ok {
		return nil, ok, err
	}
	return newPlan(op, &httpclient.Request{
		Method:  method,
		Path:    path("integrations", "archive"),
		Archive: archive,
	}), true, nil
}

func (h *integrationHandler) withActivation(plan *Plan, id string) *Plan {
	if !h.activate {
		return plan
	}
	return plan.then(RoleActivate, activationRequest(id, "ACTIVATED"))
}
