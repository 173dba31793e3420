package dialog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/fixtures"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Request(connection string, id uuid.UUID) {
	m.Called(connection, id)
}

func newTestDeps(t *testing.T) (Deps, *gateway.MockGateway, *mockRefresher) {
	t.Helper()

	repo, err := store.NewMemStore(fixtures.Resources()...)
	require.Nil(t, err)

	gw := gateway.NewMockGateway(gomock.NewController(t))

	refresher := &mockRefresher{}
	t.Cleanup(func() { refresher.AssertExpectations(t) })

	return Deps{Repository: repo, Gateway: gw, Refresher: refresher, Logger: logrus.New()}, gw, refresher
}

func boolPtr(b bool) *bool { return &b }

func openDiskDialog(t *testing.T, deps Deps) *DiskEditDialog {
	t.Helper()

	dd := NewDiskEditDialog(fixtures.RunningVM().Ref(), "sda", deps)
	require.Nil(t, dd.Open(context.Background()))

	return dd
}

func TestOpenSeedsFromInactiveConfig(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := NewDiskEditDialog(fixtures.RunningVM().Ref(), "sda", deps)
	assert.False(t, dd.Visible())
	assert.Equal(t, StateClosed, dd.State())

	require.Nil(t, dd.Open(context.Background()))

	assert.True(t, dd.Visible())
	assert.False(t, dd.InFlight())
	assert.Equal(t, StateOpen, dd.State())
	assert.Nil(t, dd.Error())

	// the live config has sda writable, the edited config is the inactive one
	assert.True(t, dd.Readonly())
	assert.False(t, dd.Shareable())
	assert.Equal(t, "fedora-web", dd.Resource().Name)
}

func TestOpenRunningVMReadonlyMismatchNotice(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := openDiskDialog(t, deps)
	assert.Equal(t, []model.Notice{model.RestartRequiredNotice()}, dd.Notices())

	// sdb live and inactive configs match
	sdb := NewDiskEditDialog(fixtures.RunningVM().Ref(), "sdb", deps)
	require.Nil(t, sdb.Open(context.Background()))
	assert.Empty(t, sdb.Notices())

	// notices are informational, closed dialogs show none
	dd.Close()
	assert.Nil(t, dd.Notices())
}

func TestOpenErrors(t *testing.T) {
	deps, _, _ := newTestDeps(t)
	ctx := context.Background()

	vm := fixtures.RunningVM()

	err := NewNetworkEditDialog(vm.Ref(), deps).Open(ctx)
	assert.True(t, errors.Is(err, ErrResourceKind), err)

	err = NewDiskEditDialog(vm.Ref(), "vdz", deps).Open(ctx)
	assert.True(t, errors.Is(err, ErrUnknownDevice), err)
	assert.False(t, errors.Is(err, ErrTransition), err)

	err = NewDeleteDialog(model.ResourceRef{ConnectionName: "system", ID: uuid.New()}, deps).Open(ctx)
	assert.True(t, errors.Is(err, model.ErrResourceNotFound), err)

	err = NewDeleteDialog(model.ResourceRef{ConnectionName: "session", ID: vm.ID}, deps).Open(ctx)
	assert.True(t, errors.Is(err, model.ErrResourceNotFound), err)

	dd := NewDiskEditDialog(vm.Ref(), "vdz", deps)
	_ = dd.Open(ctx)
	assert.False(t, dd.Visible())
}

func TestSubmitSaved(t *testing.T) {
	deps, gw, refresher := newTestDeps(t)
	vm := fixtures.RunningVM()

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetReadonly(false))

	gw.EXPECT().
		Mutate(gomock.Any(), vm.Ref(), &types.DiskPayload{Target: "sda", Readonly: boolPtr(false)}).
		Times(1).
		Return(nil)

	refresher.On("Request", vm.ConnectionName, vm.ID).Once()

	assert.Equal(t, OutcomeSaved, dd.Submit(context.Background()))
	assert.False(t, dd.Visible())
	assert.Nil(t, dd.Error())
	assert.Nil(t, dd.Resource())
}

func TestSubmitRejectedKeepsPendingEdit(t *testing.T) {
	deps, gw, refresher := newTestDeps(t)
	vm := fixtures.RunningVM()

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetReadonly(false))

	gw.EXPECT().
		Mutate(gomock.Any(), vm.Ref(), gomock.Any()).
		Times(1).
		Return(&gateway.MutationError{Kind: types.PayloadKindDisk, Ref: vm.Ref(), Message: "disk busy"})

	assert.Equal(t, OutcomeFailed, dd.Submit(context.Background()))

	assert.True(t, dd.Visible())
	assert.Equal(t, StateOpen, dd.State())
	assert.Equal(t, &model.DialogError{Summary: "Disk settings failed to be saved", Detail: "disk busy"}, dd.Error())
	assert.False(t, dd.Readonly())
	assert.Equal(t, []string{FieldReadonly}, dd.Changed())

	refresher.AssertNotCalled(t, "Request", mock.Anything, mock.Anything)

	// dismiss keeps the edit
	dd.DismissError()
	assert.Nil(t, dd.Error())
	assert.False(t, dd.Readonly())
}

func TestSubmitRetryClearsError(t *testing.T) {
	deps, gw, refresher := newTestDeps(t)
	vm := fixtures.RunningVM()

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetShareable(true))

	want := &types.DiskPayload{Target: "sda", Shareable: boolPtr(true)}

	gomock.InOrder(
		gw.EXPECT().Mutate(gomock.Any(), vm.Ref(), want).Times(1).
			Return(&gateway.TransportError{Gateway: model.GatewayKindNats, Err: errors.New("nats: timeout")}),
		gw.EXPECT().Mutate(gomock.Any(), vm.Ref(), want).Times(1).Return(nil),
	)

	refresher.On("Request", vm.ConnectionName, vm.ID).Once()

	assert.Equal(t, OutcomeFailed, dd.Submit(context.Background()))
	assert.Equal(t, "nats: timeout", dd.Error().Detail)

	assert.Equal(t, OutcomeSaved, dd.Submit(context.Background()))
	assert.Nil(t, dd.Error())
	assert.False(t, dd.Visible())
}

func TestSubmitUnchangedClosesWithoutGatewayCall(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := openDiskDialog(t, deps)

	// set back to the snapshot value
	require.Nil(t, dd.SetReadonly(true))

	assert.Equal(t, OutcomeUnchanged, dd.Submit(context.Background()))
	assert.False(t, dd.Visible())
}

func TestSubmitInvalidValue(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetField(FieldReadonly, "yes"))

	assert.Equal(t, OutcomeInvalid, dd.Submit(context.Background()))
	assert.True(t, dd.Visible())
	require.NotNil(t, dd.Error())
	assert.Equal(t, SummaryDiskEdit, dd.Error().Summary)
	assert.Contains(t, dd.Error().Detail, "readonly")
}

func TestSubmitClosed(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := NewDiskEditDialog(fixtures.RunningVM().Ref(), "sda", deps)
	assert.Equal(t, OutcomeSkipped, dd.Submit(context.Background()))
	assert.True(t, errors.Is(dd.SetReadonly(false), ErrNotEditable))
}

func TestCloseIdempotent(t *testing.T) {
	deps, _, _ := newTestDeps(t)

	dd := NewDiskEditDialog(fixtures.RunningVM().Ref(), "sda", deps)
	dd.Close()
	assert.False(t, dd.Visible())

	require.Nil(t, dd.Open(context.Background()))
	require.Nil(t, dd.SetReadonly(false))

	dd.Close()
	dd.Close()

	assert.False(t, dd.Visible())
	assert.Nil(t, dd.Error())

	// the edits were discarded
	require.Nil(t, dd.Open(context.Background()))
	assert.True(t, dd.Readonly())
	assert.Empty(t, dd.Changed())
}

func TestDoubleSubmitDispatchesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	deps, gw, refresher := newTestDeps(t)
	vm := fixtures.RunningVM()

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetReadonly(false))

	startedCh := make(chan struct{})
	releaseCh := make(chan struct{})

	gw.EXPECT().
		Mutate(gomock.Any(), vm.Ref(), gomock.Any()).
		Times(1).
		DoAndReturn(func(context.Context, model.ResourceRef, types.Payload) error {
			close(startedCh)
			<-releaseCh

			return nil
		})

	refresher.On("Request", vm.ConnectionName, vm.ID).Once()

	first := dd.SubmitAsync(context.Background())

	// the guard is taken before SubmitAsync returns
	assert.True(t, dd.InFlight())
	assert.Equal(t, OutcomeSkipped, <-dd.SubmitAsync(context.Background()))
	assert.Equal(t, OutcomeSkipped, dd.Submit(context.Background()))

	<-startedCh

	// edits are suspended while in flight
	assert.True(t, errors.Is(dd.SetReadonly(true), ErrNotEditable))

	close(releaseCh)

	assert.Equal(t, OutcomeSaved, <-first)
	assert.False(t, dd.Visible())
}

func TestCloseDuringFlight(t *testing.T) {
	tests := []struct {
		name        string
		mutateErr   error
		wantOutcome Outcome
	}{
		{"success still refreshes", nil, OutcomeSaved},
		{"failure is discarded", &gateway.MutationError{Message: "disk busy"}, OutcomeFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			deps, gw, refresher := newTestDeps(t)
			vm := fixtures.RunningVM()

			dd := openDiskDialog(t, deps)
			require.Nil(t, dd.SetReadonly(false))

			releaseCh := make(chan struct{})

			gw.EXPECT().
				Mutate(gomock.Any(), vm.Ref(), gomock.Any()).
				Times(1).
				DoAndReturn(func(context.Context, model.ResourceRef, types.Payload) error {
					<-releaseCh
					return tc.mutateErr
				})

			if tc.mutateErr == nil {
				refresher.On("Request", vm.ConnectionName, vm.ID).Once()
			}

			ch := dd.SubmitAsync(context.Background())

			dd.Close()
			assert.False(t, dd.Visible())

			close(releaseCh)

			assert.Equal(t, tc.wantOutcome, <-ch)
			assert.False(t, dd.Visible())
			assert.Nil(t, dd.Error())
		})
	}
}

func TestReopenDuringFlight(t *testing.T) {
	deps, gw, _ := newTestDeps(t)
	vm := fixtures.RunningVM()

	dd := openDiskDialog(t, deps)
	require.Nil(t, dd.SetReadonly(false))

	releaseCh := make(chan struct{})

	gw.EXPECT().
		Mutate(gomock.Any(), vm.Ref(), gomock.Any()).
		Times(1).
		DoAndReturn(func(context.Context, model.ResourceRef, types.Payload) error {
			<-releaseCh
			return &gateway.MutationError{Message: "disk busy"}
		})

	ch := dd.SubmitAsync(context.Background())

	require.Nil(t, dd.Open(context.Background()))
	assert.False(t, dd.InFlight())

	// the new instance accepts edits while the old submission is pending
	require.Nil(t, dd.SetShareable(true))

	close(releaseCh)

	assert.Equal(t, OutcomeFailed, <-ch)

	assert.True(t, dd.Visible())
	assert.Nil(t, dd.Error())
	assert.True(t, dd.Readonly())
	assert.True(t, dd.Shareable())
}

func TestDescribeAsJSON(t *testing.T) {
	b, err := DescribeAsJSON()
	require.Nil(t, err)

	for _, s := range []string{"closed", "open", "submitting", "submitSucceeded", "submitFailed"} {
		assert.Contains(t, string(b), s)
	}
}
