package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowdesk/msggate/messaging/domain"
	messagingrepo "github.com/flowdesk/msggate/messaging/repository"
	"github.com/flowdesk/msggate/pkg/apperror"
	"github.com/flowdesk/msggate/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	jobdomain "github.com/flowdesk/msggate/jobqueue/domain"
	jobrepo "github.com/flowdesk/msggate/jobqueue/repository"
	ratelimitrepo "github.com/flowdesk/msggate/ratelimit/repository"
	tenantapp "github.com/flowdesk/msggate/tenant/application"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
	tenantrepo "github.com/flowdesk/msggate/tenant/repository"
)

// --- Fakes ---

type fakePushSender struct {
	mu    sync.Mutex
	calls int
	id    string
	err   error
}

func (f *fakePushSender) SendText(endpoint, phoneID, accessToken, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	// Message ids are unique within a tenant; the fake mints one per call.
	return fmt.Sprintf("%s-%d", f.id, f.calls), nil
}

func (f *fakePushSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLiveSender struct {
	ready bool
	calls int
	id    string
	err   error
}

func (f *fakeLiveSender) HasReadySession(tenantID string) bool { return f.ready }

func (f *fakeLiveSender) SendText(ctx context.Context, tenantID, to, body string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s-%d", f.id, f.calls), nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      domain.IMessageStore
	tenants    tenantdomain.ITenantRepository
	queue      jobdomain.IQueueRepository
	push       *fakePushSender
	live       *fakeLiveSender
}

func newDispatcherFixture(t *testing.T, sendLimit int) *dispatcherFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	ctx := context.Background()
	tenants := tenantrepo.NewTenantGormRepository(db)
	require.NoError(t, tenants.InitSchema(ctx))
	store := messagingrepo.NewMessageStoreGorm(db)
	require.NoError(t, store.InitSchema(ctx))
	queue := jobrepo.NewQueueGormRepository(db)
	require.NoError(t, queue.InitSchema(ctx))
	buckets := ratelimitrepo.NewBucketGormStore(db)
	require.NoError(t, buckets.InitSchema(ctx))

	push := &fakePushSender{id: "wamid.push"}
	live := &fakeLiveSender{id: "wamid.live"}
	limiter := ratelimit.NewLimiter(buckets, true, time.Hour)

	f := &dispatcherFixture{
		store:   store,
		tenants: tenants,
		queue:   queue,
		push:    push,
		live:    live,
	}
	f.dispatcher = NewDispatcher(tenantapp.NewResolver(tenants), store, limiter,
		push, live, queue, sendLimit, 60)
	return f
}

func (f *dispatcherFixture) createTenant(t *testing.T, tenant tenantdomain.Tenant) {
	t.Helper()
	tenant.Enabled = true
	if tenant.Name == "" {
		tenant.Name = "Tenant " + tenant.ID
	}
	require.NoError(t, f.tenants.Create(context.Background(), &tenant))
}

func (f *dispatcherFixture) outgoingMessages(t *testing.T, tenantID string) []*domain.Message {
	t.Helper()
	ctx := context.Background()
	contact, err := f.store.GetContactByAddress(ctx, tenantID, "5511999")
	require.NoError(t, err)
	conv, err := f.store.UpsertConversation(ctx, tenantID, contact.ID, time.Now())
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(ctx, tenantID, conv.ID, 50)
	require.NoError(t, err)
	return msgs
}

// --- Tests ---

func TestDispatcher_PushPreferredOverLive(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", MonthlyQuota: 10,
		PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	f.live.ready = true

	msg, err := f.dispatcher.Send(context.Background(), "tenant-a", "5511999", "hello", false)
	require.NoError(t, err)
	assert.Equal(t, "wamid.push-1", msg.ExternalMessageID)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, 1, f.push.callCount())
	assert.Zero(t, f.live.calls, "live session must not be used when push credentials exist")

	tenant, err := f.tenants.GetByID(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 1, tenant.QuotaUsed)
}

func TestDispatcher_FallsBackToLiveSession(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{ID: "tenant-a"})
	f.live.ready = true

	msg, err := f.dispatcher.Send(context.Background(), "tenant-a", "5511999", "hello", false)
	require.NoError(t, err)
	assert.Equal(t, "wamid.live-1", msg.ExternalMessageID)
	assert.Equal(t, 1, f.live.calls)
	assert.Zero(t, f.push.callCount())
}

func TestDispatcher_NoActiveChannel(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{ID: "tenant-a"})
	f.live.ready = false

	msg, err := f.dispatcher.Send(context.Background(), "tenant-a", "5511999", "hello", false)
	require.Error(t, err)
	assert.IsType(t, apperror.NoActiveChannelError(""), err)
	require.NotNil(t, msg)
	assert.Equal(t, domain.StatusFailed, msg.Status, "the failed attempt is still recorded")

	counts, err := f.queue.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[jobdomain.StatusPending], "a channel-less tenant gains nothing from retrying")
}

func TestDispatcher_QuotaExhaustedBlocksSend(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", MonthlyQuota: 1,
		PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	ctx := context.Background()

	_, err := f.dispatcher.Send(ctx, "tenant-a", "5511999", "first", false)
	require.NoError(t, err)

	_, err = f.dispatcher.Send(ctx, "tenant-a", "5511999", "second", false)
	require.Error(t, err)
	assert.IsType(t, apperror.QuotaExceededError(""), err)
	assert.Equal(t, 1, f.push.callCount(), "the quota check runs before delivery")
}

func TestDispatcher_UnlimitedQuotaWhenZero(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", MonthlyQuota: 0,
		PushPhoneID: "ph-1", PushAccessToken: "tok",
	})

	for i := 0; i < 3; i++ {
		_, err := f.dispatcher.Send(context.Background(), "tenant-a", "5511999", "hi", false)
		require.NoError(t, err)
	}

	got, err := f.tenants.GetByID(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuotaUsed, "unlimited tenants still track usage")
}

func TestDispatcher_RateLimited(t *testing.T) {
	f := newDispatcherFixture(t, 1)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	ctx := context.Background()

	_, err := f.dispatcher.Send(ctx, "tenant-a", "5511999", "first", false)
	require.NoError(t, err)

	_, err = f.dispatcher.Send(ctx, "tenant-a", "5511999", "second", false)
	require.Error(t, err)
	assert.IsType(t, apperror.RateLimitedError(""), err)

	counts, err := f.queue.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[jobdomain.StatusPending], "rate limited sends are rejected, not queued")
}

func TestDispatcher_RetryableFailureEnqueues(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	f.push.err = apperror.NewRetryableSendError("upstream 503")
	ctx := context.Background()

	msg, err := f.dispatcher.Send(ctx, "tenant-a", "5511999", "hello", false)
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
	assert.Equal(t, domain.StatusFailed, msg.Status)

	jobs, err := f.queue.ReserveBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobTypeSendMessage, jobs[0].Type)
	assert.Equal(t, "tenant-a", jobs[0].TenantID)

	var payload SendJobPayload
	require.NoError(t, json.Unmarshal([]byte(jobs[0].Payload), &payload))
	assert.Equal(t, "5511999", payload.To)
	assert.Equal(t, "hello", payload.Body)
}

func TestDispatcher_HandleSendJobSucceedsAfterRecovery(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	ctx := context.Background()

	f.push.err = apperror.NewRetryableSendError("upstream 503")
	_, err := f.dispatcher.Send(ctx, "tenant-a", "5511999", "hello", false)
	require.Error(t, err)

	jobs, err := f.queue.ReserveBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	f.push.mu.Lock()
	f.push.err = nil
	f.push.mu.Unlock()
	require.NoError(t, f.dispatcher.HandleSendJob(ctx, jobs[0]))

	msgs := f.outgoingMessages(t, "tenant-a")
	var sent int
	for _, m := range msgs {
		if m.Status == domain.StatusSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestDispatcher_HandleSendJobStillFailing(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	f.push.err = apperror.NewRetryableSendError("upstream 503")

	job := &jobdomain.Job{
		TenantID: "tenant-a",
		Type:     JobTypeSendMessage,
		Payload:  `{"to":"5511999","body":"hello"}`,
	}
	err := f.dispatcher.HandleSendJob(context.Background(), job)
	require.Error(t, err, "a transient failure must reach the queue's backoff")
	assert.True(t, apperror.IsRetryable(err))
}

func TestDispatcher_HandleSendJobPermanentFailureCompletes(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})
	f.push.err = apperror.NewPermanentSendError("invalid recipient")

	job := &jobdomain.Job{
		TenantID: "tenant-a",
		Type:     JobTypeSendMessage,
		Payload:  `{"to":"5511999","body":"hello"}`,
	}
	err := f.dispatcher.HandleSendJob(context.Background(), job)
	assert.NoError(t, err, "retrying cannot fix a permanent rejection")
}

func TestDispatcher_AutoGeneratedFlagPersisted(t *testing.T) {
	f := newDispatcherFixture(t, 100)
	f.createTenant(t, tenantdomain.Tenant{
		ID: "tenant-a", PushPhoneID: "ph-1", PushAccessToken: "tok",
	})

	_, err := f.dispatcher.Send(context.Background(), "tenant-a", "5511999", "auto", true)
	require.NoError(t, err)

	msgs := f.outgoingMessages(t, "tenant-a")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].AutoGenerated)
	assert.Equal(t, domain.DirectionOutgoing, msgs[0].Direction)
}
