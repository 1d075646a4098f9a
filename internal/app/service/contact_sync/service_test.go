package contact_sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/funnelcoach/relay/internal/platform/crm"
	"github.com/funnelcoach/relay/pkg/types"
)

// fakeCRM accumulates contact state like the real CRM would.
type fakeCRM struct {
	mu            sync.Mutex
	contacts      map[string]*crm.Contact
	lookupErr     error
	upsertErr     error
	oppErr        error
	lookups       int
	upserts       int
	opportunities int
	lastReq       *crm.UpsertContactRequest
	lastOppRef    crm.StageRef
	lastOppTitle  string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: map[string]*crm.Contact{}}
}

func (f *fakeCRM) LookupContactByEmail(_ context.Context, email string) (*crm.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.contacts[email], nil
}

func (f *fakeCRM) UpsertContact(_ context.Context, req *crm.UpsertContactRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.lastReq = req
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	f.contacts[req.Email] = &crm.Contact{
		ID:           "contact_1",
		Email:        req.Email,
		Tags:         append([]string{}, req.Tags...),
		CustomFields: req.CustomFields,
	}
	return "contact_1", nil
}

func (f *fakeCRM) CreateOpportunity(_ context.Context, ref crm.StageRef, _ string, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.oppErr != nil {
		return f.oppErr
	}
	f.opportunities++
	f.lastOppRef = ref
	f.lastOppTitle = title
	return nil
}

type stubResolver struct {
	ref crm.StageRef
	err error
}

func (s stubResolver) ResolveStage(_ context.Context, _, _ string) (crm.StageRef, error) {
	return s.ref, s.err
}

func newTestService(client CRMClient) *Service {
	return NewServiceWithClient(client, zap.NewNop().Sugar())
}

func newTestServiceWithStages(client CRMClient, stages crm.StageResolver) *Service {
	svc := NewServiceWithClient(client, zap.NewNop().Sugar())
	svc.stages = stages
	svc.pipelineName = "Coaching Funnel"
	svc.stageName = "New Lead"
	return svc
}

func identity(email string) types.ContactIdentity {
	return types.ContactIdentity{Email: email}
}

func TestSyncContact_MergesExistingTags(t *testing.T) {
	fake := newFakeCRM()
	fake.contacts["a@x.com"] = &crm.Contact{ID: "contact_1", Email: "a@x.com", Tags: []string{"A", "B"}}
	svc := newTestService(fake)

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"B", "C"}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B", "C"}, fake.lastReq.Tags)
}

func TestSyncContact_LookupFailure_FailsSoft(t *testing.T) {
	fake := newFakeCRM()
	fake.lookupErr = errors.New("timeout")
	svc := newTestService(fake)

	id, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:trial_checkout"}, nil)
	require.NoError(t, err)
	require.Equal(t, "contact_1", id)
	require.Equal(t, 1, fake.upserts)
	require.ElementsMatch(t, []string{"fc:trial_checkout"}, fake.lastReq.Tags)
}

func TestSyncContact_NoExistingContact(t *testing.T) {
	fake := newFakeCRM()
	svc := newTestService(fake)

	_, err := svc.SyncContact(context.Background(), identity("new@x.com"), []string{"fc:trial_checkout", "evt:cs_cs_1"}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fc:trial_checkout", "evt:cs_cs_1"}, fake.lastReq.Tags)
}

func TestSyncContact_Idempotent(t *testing.T) {
	fake := newFakeCRM()
	svc := newTestService(fake)
	tags := []string{"fc:payment_succeeded", "evt:in_in_1"}

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), tags, nil)
	require.NoError(t, err)
	first := append([]string{}, fake.lastReq.Tags...)

	_, err = svc.SyncContact(context.Background(), identity("a@x.com"), tags, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, first, fake.lastReq.Tags)
}

func TestSyncContact_UpsertFailure_ReturnsError(t *testing.T) {
	fake := newFakeCRM()
	fake.upsertErr = &crm.APIError{Status: 502, Body: "bad gateway"}
	svc := newTestService(fake)

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:sub_canceled"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "a@x.com")
}

func TestSyncContact_NoEmail(t *testing.T) {
	fake := newFakeCRM()
	svc := newTestService(fake)

	_, err := svc.SyncContact(context.Background(), types.ContactIdentity{}, []string{"fc:sub_canceled"}, nil)
	require.Error(t, err)
	require.Zero(t, fake.lookups)
	require.Zero(t, fake.upserts)
}

func TestSyncContact_StatusGuard_RejectsOutOfOrder(t *testing.T) {
	fake := newFakeCRM()
	newer := types.FormatEventTime(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	fake.contacts["a@x.com"] = &crm.Contact{
		ID:    "contact_1",
		Email: "a@x.com",
		Tags:  []string{"fc:sub_canceled"},
		CustomFields: map[string]string{
			types.FieldLastEventTime:      newer,
			types.FieldSubscriptionStatus: "canceled",
		},
	}
	svc := newTestService(fake)

	older := types.FormatEventTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	fields := types.AuditFields{
		types.FieldLastEventTime:      older,
		types.FieldSubscriptionStatus: "active",
		types.FieldLastInvoiceID:      "in_1",
	}

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:payment_succeeded"}, fields)
	require.NoError(t, err)

	// Status does not move backwards; audit fields are still last-write-wins
	// and tags still merge.
	require.Equal(t, "canceled", fake.lastReq.CustomFields[types.FieldSubscriptionStatus])
	require.Equal(t, "in_1", fake.lastReq.CustomFields[types.FieldLastInvoiceID])
	require.ElementsMatch(t, []string{"fc:sub_canceled", "fc:payment_succeeded"}, fake.lastReq.Tags)
}

func TestSyncContact_StatusAdvancesInOrder(t *testing.T) {
	fake := newFakeCRM()
	older := types.FormatEventTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	fake.contacts["a@x.com"] = &crm.Contact{
		ID:    "contact_1",
		Email: "a@x.com",
		CustomFields: map[string]string{
			types.FieldLastEventTime:      older,
			types.FieldSubscriptionStatus: "trial",
		},
	}
	svc := newTestService(fake)

	newer := types.FormatEventTime(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	fields := types.AuditFields{
		types.FieldLastEventTime:      newer,
		types.FieldSubscriptionStatus: "active",
	}

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:payment_succeeded"}, fields)
	require.NoError(t, err)
	require.Equal(t, "active", fake.lastReq.CustomFields[types.FieldSubscriptionStatus])
}

func TestSyncContact_FirstTrialOpensOpportunity(t *testing.T) {
	fake := newFakeCRM()
	svc := newTestServiceWithStages(fake, stubResolver{ref: crm.StageRef{PipelineID: "p1", StageID: "s1"}})

	id := types.ContactIdentity{Email: "a@x.com", FirstName: "Jane", LastName: "Doe"}
	_, err := svc.SyncContact(context.Background(), id, []string{"fc:trial_checkout", "evt:cs_cs_1"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fake.opportunities)
	require.Equal(t, crm.StageRef{PipelineID: "p1", StageID: "s1"}, fake.lastOppRef)
	require.Equal(t, "Jane Doe", fake.lastOppTitle)
}

func TestSyncContact_RepeatTrialSkipsOpportunity(t *testing.T) {
	fake := newFakeCRM()
	fake.contacts["a@x.com"] = &crm.Contact{ID: "contact_1", Email: "a@x.com", Tags: []string{"fc:trial_checkout"}}
	svc := newTestServiceWithStages(fake, stubResolver{ref: crm.StageRef{PipelineID: "p1", StageID: "s1"}})

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:trial_checkout", "evt:cs_cs_1"}, nil)
	require.NoError(t, err)
	require.Zero(t, fake.opportunities)
}

func TestSyncContact_OpportunityFailure_FailsSoft(t *testing.T) {
	fake := newFakeCRM()
	fake.oppErr = errors.New("pipeline gone")
	svc := newTestServiceWithStages(fake, stubResolver{ref: crm.StageRef{PipelineID: "p1", StageID: "s1"}})

	cid, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:trial_checkout"}, nil)
	require.NoError(t, err)
	require.Equal(t, "contact_1", cid)
}

func TestSyncContact_StageResolutionFailure_FailsSoft(t *testing.T) {
	fake := newFakeCRM()
	svc := newTestServiceWithStages(fake, stubResolver{err: errors.New("all probes failed")})

	_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{"fc:trial_checkout"}, nil)
	require.NoError(t, err)
	require.Zero(t, fake.opportunities)
}

// blockingCRM detects overlapping read-merge-write cycles for one email.
type blockingCRM struct {
	fakeCRM
	inFlight   int32
	maxOverlap int32
	mu2        sync.Mutex
}

func (b *blockingCRM) LookupContactByEmail(ctx context.Context, email string) (*crm.Contact, error) {
	b.mu2.Lock()
	b.inFlight++
	if b.inFlight > b.maxOverlap {
		b.maxOverlap = b.inFlight
	}
	b.mu2.Unlock()

	time.Sleep(5 * time.Millisecond)
	c, err := b.fakeCRM.LookupContactByEmail(ctx, email)

	b.mu2.Lock()
	b.inFlight--
	b.mu2.Unlock()
	return c, err
}

func TestSyncContact_SerializedPerEmail(t *testing.T) {
	blocking := &blockingCRM{}
	blocking.contacts = map[string]*crm.Contact{}
	svc := newTestService(blocking)

	var wg sync.WaitGroup
	for _, tag := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			_, err := svc.SyncContact(context.Background(), identity("a@x.com"), []string{tag}, nil)
			require.NoError(t, err)
		}(tag)
	}
	wg.Wait()

	require.EqualValues(t, 1, blocking.maxOverlap)
	final := lo.Uniq(blocking.contacts["a@x.com"].Tags)
	require.ElementsMatch(t, []string{"A", "B", "C", "D"}, final)
}
