package entity

import "net/http"

type businessEventHandler struct {
	base
}

func newBusinessEventHandler(opts Options) *businessEventHandler {
	return &businessEventHandler{base: newBase("business_events", opts, "id", "code")}
}

func (*businessEventHandler) ExistencePath(id string) string {
	return path("businessevents", id)
}

func (*businessEventHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	name := rec.String("name")
	if name == "" {
		name = id
	}
	body := payload{"code": id, "name": name}.
		set("description", rec.Value("description")).
		set("schema", rec.Value("schema", "payload_schema"))
	return newPlan(OpCreate, jsonRequest(http.MethodPost, path("businessevents"), body)), nil
}

func (*businessEventHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.
		set("description", rec.Value("description")).
		set("schema", rec.Value("schema", "payload_schema"))
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("businessevents", id), body)), nil
}
