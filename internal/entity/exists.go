package entity

import (
	"context"
	"net/http"

	"github.com/stacklok/oic-target/internal/httpclient"
)

// Exists runs the existence check for id. A 404 means absent; any other
// error is returned unchanged so the caller can classify it.
func Exists(ctx context.Context, client httpclient.Client, h ResourceHandler, id string) (bool, error) {
	_, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, Path: h.ExistencePath(id)})
	if err == nil {
		return true, nil
	}
	if httpclient.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
