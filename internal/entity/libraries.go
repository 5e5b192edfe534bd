package entity

import (
	"net/http"

	"github.com/stacklok/oic-target/internal/httpclient"
)

const defaultLibraryType = "API"

// libraryHandler registers JavaScript/Java libraries. The library file is
// only accepted at registration time.
type libraryHandler struct {
	versioned
}

func newLibraryHandler(opts Options) *libraryHandler {
	return &libraryHandler{versioned: versioned{
		base:           newBase("libraries", opts, "id", "code"),
		versionPaths:   []string{"version"},
		defaultVersion: "1.0",
	}}
}

func (*libraryHandler) ExistencePath(id string) string {
	return path("libraries", id)
}

func (h *libraryHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	code, version := splitVersioned(id)
	archive, ok, err := archiveFrom(rec, h.stream, id, code+".jar")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing(h.stream, "archive_content")
	}

	name := rec.String("name")
	if name == "" {
		name = code
	}
	libType := rec.String("type")
	if libType == "" {
		libType = defaultLibraryType
	}
	archive.Fields = map[string]string{
		"code":        code,
		"name":        name,
		"version":     version,
		"type":        libType,
		"description": rec.String("description"),
	}
	return newPlan(OpCreate, &httpclient.Request{Method: http.MethodPost, Path: path("libraries", "archive"), Archive: archive}), nil
}

func (*libraryHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	body := payload{}.set("description", rec.Value("description"))
	return newPlan(OpUpdate, jsonRequest(http.MethodPut, path("libraries", id), body)), nil
}
