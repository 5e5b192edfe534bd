package entity

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/httpclient"
)

// BasePath is the OIC integration REST API root
const BasePath = "/ic/api/integration/v1"

// DefaultIntegrationVersion is used when a record carries no version
const DefaultIntegrationVersion = "01.00.0000"

// Operation is the remote operation chosen for a record
type Operation string

const (
	// OpCreate creates an absent entity
	OpCreate Operation = "CREATE"
	// OpUpdate updates (or replaces) an existing entity
	OpUpdate Operation = "UPDATE"
	// OpAction invokes an action endpoint
	OpAction Operation = "ACTION"
	// OpSkip sends nothing
	OpSkip Operation = "SKIP"
)

// StepRole distinguishes the requests of a multi-request plan
type StepRole int

const (
	// RolePrimary is the request that carries the record's payload
	RolePrimary StepRole = iota
	// RoleDelete removes an entity that is recreated by a later step
	RoleDelete
	// RoleActivate activates an integration after it was imported
	RoleActivate
)

// Step is one request of a plan
type Step struct {
	Role    StepRole
	Request *httpclient.Request
}

// Plan is the ordered list of requests reconciling one record. Steps run in
// order and the first failure stops the plan.
type Plan struct {
	Operation Operation
	Steps     []Step
}

func newPlan(op Operation, req *httpclient.Request) *Plan {
	return &Plan{Operation: op, Steps: []Step{{Role: RolePrimary, Request: req}}}
}

func (p *Plan) then(role StepRole, req *httpclient.Request) *Plan {
	p.Steps = append(p.Steps, Step{Role: role, Request: req})
	return p
}

// Handler maps one stream to one remote collection.
type Handler interface {
	Stream() string
	// Identify returns the entity id, or a *ValidationError when the record
	// lacks its identity fields
	Identify(rec *Record) (string, error)
}

// ResourceHandler reconciles records with the existence-check-then-branch protocol
type ResourceHandler interface {
	Handler
	// ExistencePath is the canonical GET path of the entity
	ExistencePath(id string) string
	// Decide maps the import mode and existence result to an operation
	Decide(mode config.ImportMode, exists bool) Operation
	BuildCreate(id string, rec *Record) (*Plan, error)
	BuildUpdate(id string, rec *Record) (*Plan, error)
}

// Replacer is implemented by archive-bearing handlers that can re-import an
// existing entity in full. ok is false when the record carries no archive.
type Replacer interface {
	BuildReplace(id string, rec *Record) (plan *Plan, ok bool, err error)
}

// ActionHandler invokes action endpoints without an existence check
type ActionHandler interface {
	Handler
	// BuildAction returns ErrUnknownAction for actions it does not support
	BuildAction(action, id string, rec *Record) (*Plan, error)
}

// Options configure the handlers built by NewRegistry
type Options struct {
	ActivateIntegrations bool
	// IdentifierFields overrides the identity path per stream
	IdentifierFields map[string]string
}

// base carries identity resolution shared by all handlers
type base struct {
	stream   string
	idPaths  []string
	override string
}

func newBase(stream string, opts Options, idPaths ...string) base {
	return base{stream: stream, idPaths: idPaths, override: opts.IdentifierFields[stream]}
}

// Stream implements Handler
func (b base) Stream() string {
	return b.stream
}

// Identify implements Handler. A configured identifier field wins, then the
// handler's default paths, then the stream's key properties.
func (b base) Identify(rec *Record) (string, error) {
	paths := b.idPaths
	if b.override != "" {
		paths = []string{b.override}
	}
	if id := rec.String(paths...); id != "" {
		return id, nil
	}
	if b.override == "" && len(rec.KeyProperties) > 0 {
		if id := rec.String(rec.KeyProperties[0]); id != "" {
			return id, nil
		}
	}
	return "", missing(b.stream, paths...)
}

// Decide implements the import mode hook of ResourceHandler
func (base) Decide(mode config.ImportMode, exists bool) Operation {
	switch {
	case mode == config.ImportModeCreateOnly && exists:
		return OpSkip
	case mode == config.ImportModeUpdateOnly && !exists:
		return OpSkip
	case exists:
		return OpUpdate
	default:
		return OpCreate
	}
}

// versioned identifies entities addressed as "code|version"
type versioned struct {
	base
	versionPaths   []string
	defaultVersion string
}

// Identify implements Handler
func (v versioned) Identify(rec *Record) (string, error) {
	code, err := v.base.Identify(rec)
	if err != nil {
		return "", err
	}
	if strings.Contains(code, "|") {
		return code, nil
	}
	version := rec.String(v.versionPaths...)
	if version == "" {
		version = v.defaultVersion
	}
	return code + "|" + version, nil
}

// splitVersioned splits "code|version"
func splitVersioned(id string) (code, version string) {
	code, version, _ = strings.Cut(id, "|")
	return code, version
}

// path joins escaped segments under BasePath. A composite "code|version"
// segment keeps its separator.
func path(segments ...string) string {
	var b strings.Builder
	b.WriteString(BasePath)
	for _, s := range segments {
		b.WriteByte('/')
		if code, version, ok := strings.Cut(s, "|"); ok {
			b.WriteString(url.PathEscape(code) + "|" + url.PathEscape(version))
			continue
		}
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func jsonRequest(method, p string, body any) *httpclient.Request {
	return &httpclient.Request{Method: method, Path: p, Body: body}
}

// payload drops absent values so partial updates never clear remote fields
type payload map[string]any

func (p payload) set(key string, value any) payload {
	if value != nil {
		p[key] = value
	}
	return p
}

// archiveFrom decodes the base64 archive carried by a record. ok is false
// when the record has no archive.
func archiveFrom(rec *Record, stream, id, defaultName string, contentPaths ...string) (*httpclient.Archive, bool, error) {
	if len(contentPaths) == 0 {
		contentPaths = []string{"archive_content", "archiveContent"}
	}
	encoded := rec.String(contentPaths...)
	if encoded == "" {
		return nil, false, nil
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, &TransformationError{Stream: stream, EntityID: id,
			Err: fmt.Errorf("archive content is not valid base64: %w", err)}
	}
	name := rec.String("archive_file_name", "archiveFileName", "file_name", "fileName")
	if name == "" {
		name = defaultName
	}
	return &httpclient.Archive{FileName: name, Content: content}, true, nil
}

// activationRequest switches an integration to ACTIVATED or CONFIGURED.
// OIC models status changes as PATCH tunnelled through POST.
func activationRequest(id, status string) *httpclient.Request {
	header := http.Header{}
	header.Set("X-HTTP-Method-Override", http.MethodPatch)
	return &httpclient.Request{
		Method: http.MethodPost,
		Path:   path("integrations", id),
		Body:   map[string]any{"status": status},
		Header: header,
	}
}
