package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/oic-target/internal/auth"
	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/httpclient"
	"github.com/stacklok/oic-target/internal/httpclient/mocks"
)

const (
	api = "/ic/api/integration/v1"
	// base64("PK-archive")
	archiveB64 = "UEstYXJjaGl2ZQ=="
)

// call matches a request by method and path
type call struct {
	method string
	path   string
}

func (c call) Matches(x any) bool {
	req, ok := x.(*httpclient.Request)
	return ok && req.Method == c.method && req.Path == c.path
}

func (c call) String() string {
	return fmt.Sprintf("%s %s", c.method, c.path)
}

func respond(status int) *httpclient.Response {
	return &httpclient.Response{StatusCode: status, Header: http.Header{}}
}

func httpErr(status int) error {
	return httpclient.NewHTTPError(status, http.MethodGet, "https://oic.example.com", http.StatusText(status))
}

func record(t *testing.T, stream, raw string) *entity.Record {
	t.Helper()
	rec, err := entity.NewRecord(stream, []byte(raw), nil)
	require.NoError(t, err)
	return rec
}

func TestDispatch_CreateWhenAbsent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/connections/C1"}).Return(nil, httpErr(http.StatusNotFound)),
		client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/connections"}).Return(respond(http.StatusCreated), nil),
	)

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(),
		record(t, "connections", `{"id":"C1","name":"Conn1","adapter_type":"REST"}`))

	require.NoError(t, err)
	assert.Equal(t, "C1", out.EntityID)
	assert.Equal(t, entity.OpCreate, out.Operation)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, http.StatusCreated, out.HTTPStatus)
}

func TestDispatch_UpdateWhenPresent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/connections/C1"}).Return(respond(http.StatusOK), nil),
		client.EXPECT().Do(gomock.Any(), call{http.MethodPut, api + "/connections/C1"}).Return(respond(http.StatusOK), nil),
	)

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(),
		record(t, "connections", `{"id":"C1","name":"Conn1","adapter_type":"REST"}`))

	require.NoError(t, err)
	assert.Equal(t, entity.OpUpdate, out.Operation)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestDispatch_SkipsWithoutCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		stream      string
		record      string
		wantID      string
		wantMessage string
	}{
		{
			name:        "unknown action",
			stream:      "connection_actions",
			record:      `{"connectionId":"C1","action":"bogus_action"}`,
			wantID:      "C1",
			wantMessage: "bogus_action",
		},
		{
			name:        "unknown stream",
			stream:      "agents",
			record:      `{"id":"A1"}`,
			wantID:      "A1",
			wantMessage: "no handler registered",
		},
		{
			name:        "schedule without parent integration",
			stream:      "schedules",
			record:      `{"schedule":"FREQ=DAILY"}`,
			wantMessage: "integration_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			// No expectations: any request fails the test
			client := mocks.NewMockClient(ctrl)

			d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
			out, err := d.Dispatch(context.Background(), record(t, tt.stream, tt.record))

			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, out.Status)
			assert.Equal(t, entity.OpSkip, out.Operation)
			assert.Equal(t, tt.wantID, out.EntityID)
			assert.Contains(t, out.Message, tt.wantMessage)
		})
	}
}

func TestDispatch_ImportModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      config.ImportMode
		exists    bool
		next      *call
		wantOp    entity.Operation
		wantState Status
	}{
		{
			name:      "create_only skips existing",
			mode:      config.ImportModeCreateOnly,
			exists:    true,
			wantOp:    entity.OpSkip,
			wantState: StatusSkipped,
		},
		{
			name:      "update_only skips absent",
			mode:      config.ImportModeUpdateOnly,
			wantOp:    entity.OpSkip,
			wantState: StatusSkipped,
		},
		{
			name:      "update_only updates existing",
			mode:      config.ImportModeUpdateOnly,
			exists:    true,
			next:      &call{http.MethodPut, api + "/projects/PRJ"},
			wantOp:    entity.OpUpdate,
			wantState: StatusSuccess,
		},
		{
			name:      "replace without archive updates in place",
			mode:      config.ImportModeReplace,
			exists:    true,
			next:      &call{http.MethodPut, api + "/projects/PRJ"},
			wantOp:    entity.OpUpdate,
			wantState: StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)

			existence := client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/projects/PRJ"})
			if tt.exists {
				existence.Return(respond(http.StatusOK), nil)
			} else {
				existence.Return(nil, httpErr(http.StatusNotFound))
			}
			if tt.next != nil {
				client.EXPECT().Do(gomock.Any(), *tt.next).Return(respond(http.StatusOK), nil)
			}

			d := NewDispatcher(entity.NewRegistry(entity.Options{}), client, WithImportMode(tt.mode))
			out, err := d.Dispatch(context.Background(), record(t, "projects", `{"code":"PRJ","description":"d"}`))

			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, out.Operation)
			assert.Equal(t, tt.wantState, out.Status)
		})
	}
}

func TestDispatch_ReplaceReimportsArchive(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/integrations/HELLO|01.00.0000"}).Return(respond(http.StatusOK), nil),
		client.EXPECT().Do(gomock.Any(), call{http.MethodPut, api + "/integrations/archive"}).Return(respond(http.StatusNoContent), nil),
	)

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client, WithImportMode(config.ImportModeReplace))
	out, err := d.Dispatch(context.Background(),
		record(t, "integrations", `{"id":"HELLO","archive_content":"`+archiveB64+`"}`))

	require.NoError(t, err)
	assert.Equal(t, entity.OpUpdate, out.Operation)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, http.StatusNoContent, out.HTTPStatus)
}

func TestDispatch_DryRun(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/lookups/COUNTRIES"}).Return(nil, httpErr(http.StatusNotFound))

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client, WithDryRun(true))
	out, err := d.Dispatch(context.Background(), record(t, "lookups", `{"name":"COUNTRIES","rows":[]}`))

	require.NoError(t, err)
	assert.Equal(t, entity.OpCreate, out.Operation)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Contains(t, out.Message, "dry run")
}

func TestDispatch_CertificateRecreateFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gomock.InOrder(
		client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/certificates/partner"}).Return(respond(http.StatusOK), nil),
		client.EXPECT().Do(gomock.Any(), call{http.MethodDelete, api + "/certificates/partner"}).Return(respond(http.StatusNoContent), nil),
		client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/certificates"}).Return(nil, httpErr(http.StatusBadRequest)),
	)

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(),
		record(t, "certificates", `{"alias":"partner","certificate_content":"`+archiveB64+`"}`))

	require.NoError(t, err, "a failed record does not end the batch")
	assert.Equal(t, entity.OpUpdate, out.Operation)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, http.StatusBadRequest, out.HTTPStatus)
	assert.Contains(t, out.Message, "deleted partner but recreating it failed")
}

func TestDispatch_Activation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		activateErr   error
		wantStatus    Status
		wantHTTP      int
		wantActivated bool
	}{
		{name: "activated", wantStatus: StatusSuccess, wantHTTP: http.StatusCreated, wantActivated: true},
		{
			name:        "activation rejected",
			activateErr: httpErr(http.StatusConflict),
			wantStatus:  StatusFailed,
			wantHTTP:    http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)

			activateResp := respond(http.StatusOK)
			if tt.activateErr != nil {
				activateResp = nil
			}
			gomock.InOrder(
				client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/integrations/HELLO|01.00.0000"}).
					Return(nil, httpErr(http.StatusNotFound)),
				client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/integrations/archive"}).
					Return(respond(http.StatusCreated), nil),
				client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/integrations/HELLO|01.00.0000"}).
					Return(activateResp, tt.activateErr),
			)

			d := NewDispatcher(entity.NewRegistry(entity.Options{ActivateIntegrations: true}), client)
			out, err := d.Dispatch(context.Background(),
				record(t, "integrations", `{"id":"HELLO","archive_content":"`+archiveB64+`"}`))

			require.NoError(t, err)
			assert.Equal(t, entity.OpCreate, out.Operation)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantActivated, out.Activated)
			assert.Equal(t, tt.wantHTTP, out.HTTPStatus)
			if tt.activateErr != nil {
				assert.Contains(t, out.Message, "activation failed")
			}
		})
	}
}

func TestDispatch_Action(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/connections/C1/test"}).Return(respond(http.StatusOK), nil)

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(), record(t, "connection_actions", `{"connectionId":"C1","action":"test"}`))

	require.NoError(t, err)
	assert.Equal(t, entity.OpAction, out.Operation)
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestDispatch_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		createErr  error
		wantReason string
		wantStatus int
	}{
		{
			name:       "client error fails the record only",
			createErr:  httpErr(http.StatusBadRequest),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "retries exhausted fails the record only",
			createErr:  httpErr(http.StatusServiceUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "authentication failure ends the batch",
			createErr:  &auth.AuthenticationError{StatusCode: http.StatusUnauthorized, Body: "invalid_token"},
			wantReason: ReasonAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			gomock.InOrder(
				client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/projects/PRJ"}).Return(nil, httpErr(http.StatusNotFound)),
				client.EXPECT().Do(gomock.Any(), call{http.MethodPost, api + "/projects"}).Return(nil, tt.createErr),
			)

			d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
			out, err := d.Dispatch(context.Background(), record(t, "projects", `{"code":"PRJ"}`))

			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, tt.wantStatus, out.HTTPStatus)
			if tt.wantReason == "" {
				require.NoError(t, err)
				return
			}
			var syncErr *Error
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, tt.wantReason, syncErr.Reason)
			assert.True(t, auth.IsAuthenticationError(err))
		})
	}
}

func TestDispatch_ExistenceCheckFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/projects/PRJ"}).
		Return(nil, &httpclient.ConnectionError{Method: http.MethodGet, URL: "x", Timeout: true, Err: errors.New("deadline")})

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(), record(t, "projects", `{"code":"PRJ"}`))

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, entity.OpSkip, out.Operation, "no operation was chosen")
	assert.Contains(t, out.Message, "existence check failed")
}

func TestDispatch_TransformationErrors(t *testing.T) {
	t.Parallel()

	for _, ignore := range []bool{true, false} {
		t.Run(fmt.Sprintf("ignore=%v", ignore), func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/packages/pkg"}).Return(nil, httpErr(http.StatusNotFound))

			d := NewDispatcher(entity.NewRegistry(entity.Options{}), client, WithIgnoreTransformationErrors(ignore))
			out, err := d.Dispatch(context.Background(),
				record(t, "packages", `{"id":"pkg","archive_content":"%%%"}`))

			assert.Equal(t, StatusFailed, out.Status)
			if ignore {
				require.NoError(t, err)
				return
			}
			var syncErr *Error
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, ReasonTransformation, syncErr.Reason)
		})
	}
}

func TestDispatch_ValidationDuringBuildSkips(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().Do(gomock.Any(), call{http.MethodGet, api + "/packages/pkg"}).Return(nil, httpErr(http.StatusNotFound))

	d := NewDispatcher(entity.NewRegistry(entity.Options{}), client)
	out, err := d.Dispatch(context.Background(), record(t, "packages", `{"id":"pkg"}`))

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Contains(t, out.Message, "archive_content")
}

func TestMachine(t *testing.T) {
	t.Parallel()

	m := newMachine(nil)
	require.NoError(t, m.to(StateRouted))
	require.NoError(t, m.to(StateChecked))
	assert.Error(t, m.to(StateActing), "actions never follow an existence check")
	require.NoError(t, m.to(StateCreating))
	require.NoError(t, m.to(StateSucceeded))
	assert.True(t, m.state.Terminal())
	assert.Error(t, m.to(StateFailed), "terminal states are final")
}
