package entity

import "net/http"

type lookupHandler struct {
	base
}

func newLookupHandler(opts Options) *lookupHandler {
	return &lookupHandler{base: newBase("lookups", opts, "name", "id")}
}

func (*lookupHandler) ExistencePath(id string) string {
	return path("lookups", id)
}

func (*lookupHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	body := payload{"name": id}.
		set("description", rec.Value("description")).
		set("columns", rec.Value("columns")).
		set("rows", rec.Value("rows"))
	return newPlan(OpCreate, jsonRequest(http.MethodPost, path("lookups"), body)), nil
}

// BuildUpdate replaces the rows; columns define the lookup and are immutable
func (*lookupHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.
		set("description", rec.Value("description")).
		set("rows", rec.Value("rows"))
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("lookups", id), body)), nil
}
