package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metal-toolbox/vmconsole/internal/fixtures"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

var testOpts = Options{Concurrency: 2, MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newTestRefresher(t *testing.T) (*Refresher, *gateway.MockFetcher, *store.MemStore) {
	t.Helper()

	repo, err := store.NewMemStore(fixtures.Resources()...)
	require.Nil(t, err)

	fetcher := gateway.NewMockFetcher(gomock.NewController(t))

	return New(fetcher, repo, testOpts, logrus.New()), fetcher, repo
}

func waitIdle(t *testing.T, r *Refresher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Nil(t, r.Wait(ctx))
}

func TestRefreshUpdatesStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, repo := newTestRefresher(t)

	updated := fixtures.RunningVM()
	updated.InactiveConfig.Devices[0].Disk.Readonly = false

	fetcher.EXPECT().Resource(gomock.Any(), updated.Ref()).Times(1).Return(updated, nil)

	r.Start(context.Background())
	r.Request(updated.ConnectionName, updated.ID)
	waitIdle(t, r)
	r.StopWait()

	got, err := repo.ResourceByID(context.Background(), updated.ID)
	require.Nil(t, err)
	assert.False(t, got.InactiveConfig.Devices[0].Disk.Readonly)
}

func TestRefreshRemovesDeletedResource(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, repo := newTestRefresher(t)

	vm := fixtures.ShutOffVM()

	fetcher.EXPECT().
		Resource(gomock.Any(), vm.Ref()).
		Times(1).
		Return(nil, errors.Wrap(model.ErrResourceNotFound, vm.ID.String()))

	r.Start(context.Background())
	r.Request(vm.ConnectionName, vm.ID)
	waitIdle(t, r)
	r.StopWait()

	_, err := repo.ResourceByID(context.Background(), vm.ID)
	assert.True(t, errors.Is(err, model.ErrResourceNotFound))
}

func TestRefreshRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, repo := newTestRefresher(t)

	network := fixtures.ActiveNetwork()
	network.Config.Bridge = "virbr9"

	gomock.InOrder(
		fetcher.EXPECT().Resource(gomock.Any(), network.Ref()).Times(2).Return(nil, errors.New("bus timeout")),
		fetcher.EXPECT().Resource(gomock.Any(), network.Ref()).Times(1).Return(network, nil),
	)

	r.Start(context.Background())
	r.Request(network.ConnectionName, network.ID)
	waitIdle(t, r)
	r.StopWait()

	got, err := repo.ResourceByID(context.Background(), network.ID)
	require.Nil(t, err)
	assert.Equal(t, "virbr9", got.Config.Bridge)
}

func TestRefreshGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, repo := newTestRefresher(t)

	vm := fixtures.RunningVM()

	fetcher.EXPECT().
		Resource(gomock.Any(), vm.Ref()).
		Times(testOpts.MaxAttempts).
		Return(nil, &gateway.TransportError{Gateway: model.GatewayKindNats, Err: errors.New("no responders")})

	r.Start(context.Background())
	r.Request(vm.ConnectionName, vm.ID)
	waitIdle(t, r)
	r.StopWait()

	// the stored snapshot is kept
	got, err := repo.ResourceByID(context.Background(), vm.ID)
	require.Nil(t, err)
	assert.Equal(t, vm.Name, got.Name)
}

func TestRefreshCoalescesQueuedRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, _ := newTestRefresher(t)

	vm := fixtures.RunningVM()
	network := fixtures.ActiveNetwork()

	fetcher.EXPECT().Resource(gomock.Any(), vm.Ref()).Times(1).Return(vm, nil)
	fetcher.EXPECT().Resource(gomock.Any(), network.Ref()).Times(1).Return(network, nil)

	// queued before the refresher is started
	for i := 0; i < 3; i++ {
		r.Request(vm.ConnectionName, vm.ID)
		r.Request(network.ConnectionName, network.ID)
	}

	assert.Equal(t, 2, r.Pending())

	r.Start(context.Background())
	waitIdle(t, r)
	r.StopWait()
}

func TestRefreshRequestDuringFetchRunsAgain(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, fetcher, _ := newTestRefresher(t)

	vm := fixtures.RunningVM()

	var calls int32

	releaseCh := make(chan struct{})
	startedCh := make(chan struct{})

	fetcher.EXPECT().
		Resource(gomock.Any(), vm.Ref()).
		Times(2).
		DoAndReturn(func(context.Context, model.ResourceRef) (*model.Resource, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(startedCh)
				<-releaseCh
			}

			return vm, nil
		})

	r.Start(context.Background())
	r.Request(vm.ConnectionName, vm.ID)

	<-startedCh

	// the first fetch may have read stale state, this one must run after it
	r.Request(vm.ConnectionName, vm.ID)
	close(releaseCh)

	waitIdle(t, r)
	r.StopWait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRefreshStopWaitDropsQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _, _ := newTestRefresher(t)

	vm := fixtures.RunningVM()

	r.Request(vm.ConnectionName, vm.ID)
	r.StopWait()

	assert.Equal(t, 0, r.Pending())
	assert.True(t, errors.Is(r.Wait(context.Background()), ErrNotStarted))

	// requests after stop are dropped
	r.Request(vm.ConnectionName, vm.ID)
	assert.Equal(t, 0, r.Pending())

	// a second stop is a no-op
	r.StopWait()
}
