package counterproposal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	createCalls int
	createFn    func(cp CounterProposal, idempotencyKey string) (CounterProposal, error)
	listFn      func(page, pageSize int) (Page, error)
	updateCh    chan struct{} // when set, UpdateCounterProposalStatus blocks until closed
	updateCalls int
	updateErr   error
	deleteErr   error
}

func (f *fakeAPI) CreateCounterProposal(_ context.Context, cp CounterProposal, _, _, key string) (CounterProposal, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(cp, key)
	}
	cp.ID = "cp1"
	cp.Status = StatusPending
	return cp, nil
}

func (f *fakeAPI) ListCounterProposals(_ context.Context, _, _, _ string, page, pageSize int) (Page, error) {
	if f.listFn != nil {
		return f.listFn(page, pageSize)
	}
	return EmptyPage(), nil
}

func (f *fakeAPI) UpdateCounterProposalStatus(_ context.Context, _, _, _, _ string) error {
	f.mu.Lock()
	f.updateCalls++
	f.mu.Unlock()
	if f.updateCh != nil {
		<-f.updateCh
	}
	return f.updateErr
}

func (f *fakeAPI) DeleteCounterProposal(context.Context, string, string, string) error {
	return f.deleteErr
}

func (f *fakeAPI) CounterProposalPDFURL(id, role string) string {
	return "http://pdf/" + id
}

func TestCreateRejectsNonPositivePriceWithoutNetworkCall(t *testing.T) {
	api := &fakeAPI{}
	svc := NewService(api)

	_, err := svc.Create(context.Background(), CounterProposal{ProposalID: "p1", ProposedPrice: 0}, "agent", "111")
	assert.ErrorIs(t, err, ErrNonPositivePrice)
	assert.Equal(t, 0, api.createCalls, "no network call may happen on validation failure")
}

func TestCreateStampsRoleAndIdempotencyKey(t *testing.T) {
	var gotKey string
	api := &fakeAPI{createFn: func(cp CounterProposal, key string) (CounterProposal, error) {
		gotKey = key
		assert.Equal(t, "manager", cp.CreatorRole)
		cp.ID = "cp2"
		return cp, nil
	}}
	svc := NewService(api)

	created, err := svc.Create(context.Background(), CounterProposal{ProposalID: "p1", ProposedPrice: 450000}, "manager", "111")
	require.NoError(t, err)
	assert.Equal(t, "cp2", created.ID)
	assert.NotEmpty(t, gotKey)
}

func TestListFailSoftResetsPage(t *testing.T) {
	api := &fakeAPI{listFn: func(page, pageSize int) (Page, error) {
		return Page{Page: 4, PageCount: 9, Total: 42}, errors.New("boom")
	}}
	svc := NewService(api)

	page, err := svc.List(context.Background(), "p1", "agent", "111", 4)
	assert.Error(t, err)
	assert.Equal(t, EmptyPage(), page, "failure must reset to the empty single page")
}

func TestListNormalizesPageShape(t *testing.T) {
	api := &fakeAPI{listFn: func(page, pageSize int) (Page, error) {
		assert.Equal(t, PageSize, pageSize)
		return Page{Items: nil, Page: 0, PageCount: 0, Total: 0}, nil
	}}
	svc := NewService(api)

	page, err := svc.List(context.Background(), "p1", "agent", "111", 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.PageCount)
}

func TestTransitionDeduplicatesInFlight(t *testing.T) {
	api := &fakeAPI{updateCh: make(chan struct{})}
	svc := NewService(api)

	done := make(chan struct{})
	go func() {
		applied, err := svc.Transition(context.Background(), "cp1", StatusApproved, "agent", "111")
		assert.NoError(t, err)
		assert.True(t, applied)
		close(done)
	}()

	// Wait for the first call to reach the fake and block.
	for {
		api.mu.Lock()
		calls := api.updateCalls
		api.mu.Unlock()
		if calls == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	applied, err := svc.Transition(context.Background(), "cp1", StatusApproved, "agent", "111")
	assert.NoError(t, err)
	assert.False(t, applied, "repeated click while in flight must be a no-op")

	close(api.updateCh)
	<-done

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.updateCalls)
}

func TestTransitionAllowsNewCallAfterCompletion(t *testing.T) {
	api := &fakeAPI{}
	svc := NewService(api)

	applied, err := svc.Transition(context.Background(), "cp1", StatusRejected, "agent", "111")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Transition(context.Background(), "cp1", StatusRejected, "agent", "111")
	require.NoError(t, err)
	assert.True(t, applied, "server stays authoritative for repeat transitions")
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	svc := NewService(&fakeAPI{})
	_, err := svc.Transition(context.Background(), "cp1", "cancelada", "agent", "111")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
