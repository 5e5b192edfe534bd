package entity

import "net/http"

// monitoringHandler manages the tracing and retention settings of an integration
type monitoringHandler struct {
	parentIntegration
}

func newMonitoringHandler(opts Options) *monitoringHandler {
	return &monitoringHandler{parentIntegration: newParentIntegration("monitoring_config", opts)}
}

func (*monitoringHandler) ExistencePath(id string) string {
	return path("integrations", id, "monitoring")
}

func (h *monitoringHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	return newPlan(OpCreate, jsonRequest(http.MethodPost, h.ExistencePath(id), monitoringBody(rec))), nil
}

func (h *monitoringHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, h.ExistencePath(id), monitoringBody(rec))), nil
}

func monitoringBody(rec *Record) payload {
	return payload{}.
		set("tracingLevel", rec.Value("tracing_level", "tracingLevel")).
		set("includePayload", rec.Value("include_payload", "includePayload")).
		set("retentionDays", rec.Value("retention_days", "retentionDays"))
}
