package entity

import "net/http"

type connectionHandler struct {
	base
}

func newConnectionHandler(opts Options) *connectionHandler {
	return &connectionHandler{base: newBase("connections", opts, "id", "code")}
}

func (*connectionHandler) ExistencePath(id string) string {
	return path("connections", id)
}

func (h *connectionHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	name := rec.String("name")
	if name == "" {
		name = id
	}
	props := payload{"name": name, "identifier": id}.
		set("description", rec.Value("description")).
		set("adapterType", rec.Value("adapter_type", "adapterType")).
		set("connectionProperties", rec.Value("connection_properties", "connectionProperties"))

	return newPlan(OpCreate, jsonRequest(http.MethodPost, path("connections"),
		map[string]any{"connectionProperties": props})), nil
}

// BuildUpdate sends only mutable fields; name and adapter type are fixed at creation
func (*connectionHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.
		set("description", rec.Value("description")).
		set("connectionProperties", rec.Value("connection_properties", "connectionProperties"))

	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("connections", id), body)), nil
}
