package entity

// noopHandler stands in for streams without a registered handler
type noopHandler struct {
	stream string
}

// Stream implements Handler
func (h noopHandler) Stream() string {
	return h.stream
}

// Identify implements Handler. Unknown streams have no identity rules, so the
// first key property is used when present.
func (noopHandler) Identify(rec *Record) (string, error) {
	if len(rec.KeyProperties) > 0 {
		return rec.String(rec.KeyProperties[0]), nil
	}
	return rec.String("id"), nil
}
