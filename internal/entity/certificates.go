package entity

import (
	"net/http"

	"github.com/stacklok/oic-target/internal/httpclient"
)

const defaultCertificateType = "X509"

// certificateHandler uploads certificates. OIC cannot update a certificate in
// place, so an update deletes it and uploads it again. If the upload fails
// after the delete succeeded the certificate stays deleted; the dispatcher
// reports that explicitly and nothing is rolled back.
type certificateHandler struct {
	base
}

func newCertificateHandler(opts Options) *certificateHandler {
	return &certificateHandler{base: newBase("certificates", opts, "id", "alias")}
}

func (*certificateHandler) ExistencePath(id string) string {
	return path("certificates", id)
}

func (h *certificateHandler) BuildCreate(id string, rec *Record) (*Plan, error) {
	req, err := h.uploadRequest(id, rec)
	if err != nil {
		return nil, err
	}
	return newPlan(OpCreate, req), nil
}

func (h *certificateHandler) BuildUpdate(id string, rec *Record) (*Plan, error) {
	upload, err := h.uploadRequest(id, rec)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Operation: OpUpdate, Steps: []Step{{
		Role:    RoleDelete,
		Request: &httpclient.Request{Method: http.MethodDelete, Path: path("certificates", id)},
	}}}
	return plan.then(RolePrimary, upload), nil
}

func (h *certificateHandler) uploadRequest(id string, rec *Record) (*httpclient.Request, error) {
	archive, ok, err := archiveFrom(rec, h.stream, id, id+".cer",
		"certificate_content", "certificateContent", "archive_content")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, missing(h.stream, "certificate_content")
	}

	certType := rec.String("type", "certificate_type")
	if certType == "" {
		certType = defaultCertificateType
	}
	archive.Fields = map[string]string{"alias": id, "type": certType}
	if desc := rec.String("description"); desc != "" {
		archive.Fields["description"] = desc
	}
	return &httpclient.Request{Method: http.MethodPost, Path: path("certificates"), Archive: archive}, nil
}
