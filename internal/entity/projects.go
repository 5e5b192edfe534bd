package entity

import "net/http"

type projectHandler struct {
	base
}

func newProjectHandler(opts Options) *projectHandler {
	return &projectHandler{base: newBase("projects", opts, "id", "code")}
}

func (*projectHandler) ExistencePath(id string) string {
	return path("projects", id)
}

func (*projectHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	name := rec.String("name")
	if name == "" {
		name = id
	}
	body := payload{"code": id, "name": name}.set("description", rec.Value("description"))
	return newPlan(OpCreate, jsonRequest(http.MethodPost, path("projects"), body)), nil
}

func (*projectHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.set("description", rec.Value("description"))
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("projects", id), body)), nil
}
