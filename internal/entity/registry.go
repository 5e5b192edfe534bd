package entity

import "slices"

// Registry maps stream names to handlers. It is built once and read-only after.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry registers a handler for every supported stream
func NewRegistry(opts Options) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range []Handler{
		newConnectionHandler(opts),
		newIntegrationHandler(opts),
		newPackageHandler(opts),
		newLookupHandler(opts),
		newLibraryHandler(opts),
		newCertificateHandler(opts),
		newProjectHandler(opts),
		newScheduleHandler(opts),
		newBusinessEventHandler(opts),
		newMonitoringHandler(opts),
		newIntegrationActionHandler(opts),
		newConnectionActionHandler(opts),
	} {
		r.handlers[h.Stream()] = h
	}
	return r
}

// Lookup returns the handler for stream. ok is false for unknown streams, in
// which case the returned handler is the no-op default.
func (r *Registry) Lookup(stream string) (h Handler, ok bool) {
	if h, ok := r.handlers[stream]; ok {
		return h, true
	}
	return noopHandler{stream: stream}, false
}

// EntityID identifies rec with its stream's handler, or returns "" when the
// record carries no usable id
func (r *Registry) EntityID(rec *Record) string {
	h, _ := r.Lookup(rec.Stream)
	id, err := h.Identify(rec)
	if err != nil {
		return ""
	}
	return id
}

// Streams lists the registered stream names in sorted order
func (r *Registry) Streams() []string {
	streams := make([]string, 0, len(r.handlers))
	for s := range r.handlers {
		streams = append(streams, s)
	}
	slices.Sort(streams)
	return streams
}
