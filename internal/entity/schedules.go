package entity

import "net/http"

// parentIntegration identifies entities nested under an integration. The
// record must name its parent; there is no fallback to key properties.
type parentIntegration struct {
	base
}

func newParentIntegration(stream string, opts Options) parentIntegration {
	return parentIntegration{base: newBase(stream, opts, "integration_id", "integrationId")}
}

// Identify implements Handler
func (p parentIntegration) Identify(rec *Record) (string, error) {
	paths := p.idPaths
	if p.override != "" {
		paths = []string{p.override}
	}
	code := rec.String(paths...)
	if code == "" {
		return "", missing(p.stream, paths...)
	}
	version := rec.String("integration_version", "integrationVersion", "version")
	if version == "" {
		version = DefaultIntegrationVersion
	}
	return code + "|" + version, nil
}

type scheduleHandler struct {
	parentIntegration
}

func newScheduleHandler(opts Options) *scheduleHandler {
	return &scheduleHandler{parentIntegration: newParentIntegration("schedules", opts)}
}

func (*scheduleHandler) ExistencePath(id string) string {
	return path("integrations", id, "schedule")
}

func (h *scheduleHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	return newPlan(OpCreate, jsonRequest(http.MethodPost, h.ExistencePath(id), scheduleBody(rec))), nil
}

func (h *scheduleHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, h.ExistencePath(id), scheduleBody(rec))), nil
}

func scheduleBody(rec *Record) payload {
	return payload{}.
		set("schedule", rec.Value("schedule", "schedule_definition")).
		set("timezone", rec.Value("timezone", "time_zone"))
}
