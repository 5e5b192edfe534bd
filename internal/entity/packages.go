package entity

import (
	"net/http"

	"github.com/stacklok/oic-target/internal/httpclient"
)

// packageHandler manages packages, which OIC only accepts as .par archives.
// An update is a replace import of the archive.
type packageHandler struct {
	base
}

func newPackageHandler(opts Options) *packageHandler {
	return &packageHandler{base: newBase("packages", opts, "id", "name")}
}

func (*packageHandler) ExistencePath(id string) string {
	return path("packages", id)
}

func (h *packageHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	return h.importPlan(OpCreate, http.MethodPost, id, rec)
}

func (h *packageHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	return h.importPlan(OpUpdate, http.MethodPut, id, rec)
}

func (h *packageHandler) importPlan(op Operation, method, id string, rec *Record) (*Plan, error) {
	archive, ok, err := archiveFrom(rec, h.stream, id, id+".par")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing(h.stream, "archive_content")
	}
	return newPlan(op, &httpclient.Request{
		Method:  method,
		Path:    path("packages", "archive"),
		Archive: archive,
	}), nil
}
