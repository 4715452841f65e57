package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowdesk/msggate/messaging/domain"
	"github.com/flowdesk/msggate/pkg/apperror"
	"github.com/sirupsen/logrus"

	jobdomain "github.com/flowdesk/msggate/jobqueue/domain"
	"github.com/flowdesk/msggate/ratelimit"
	tenantapp "github.com/flowdesk/msggate/tenant/application"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
)

const JobTypeSendMessage = "send_message"

// PushSender sends through the hosted push API with tenant credentials.
type PushSender interface {
	SendText(endpoint, phoneID, accessToken, to, body string) (string, error)
}

// LiveSender sends through a tenant's connected live session. Implemented by
// the session manager; nil in deployments without live channels.
type LiveSender interface {
	// HasReadySession reports whether the tenant has at least one session in
	// READY state.
	HasReadySession(tenantID string) bool
	// SendText sends via the tenant's preferred READY session and returns the
	// provider message id.
	SendText(ctx context.Context, tenantID, to, body string) (string, error)
}

// SendJobPayload is the queue payload for deferred retries.
type SendJobPayload struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	AutoGenerated bool   `json:"auto_generated,omitempty"`
}

// Dispatcher owns the outbound path: quota, rate limit, channel selection,
// delivery, persistence. Channel preference is push API first, live session
// second.
type Dispatcher struct {
	resolver *tenantapp.Resolver
	store    domain.IMessageStore
	limiter  *ratelimit.Limiter
	push     PushSender
	live     LiveSender
	queue    jobdomain.IQueueRepository

	sendLimit     int
	windowSeconds int
}

func NewDispatcher(
	resolver *tenantapp.Resolver,
	store domain.IMessageStore,
	limiter *ratelimit.Limiter,
	push PushSender,
	live LiveSender,
	queue jobdomain.IQueueRepository,
	sendLimit, windowSeconds int,
) *Dispatcher {
	return &Dispatcher{
		resolver:      resolver,
		store:         store,
		limiter:       limiter,
		push:          push,
		live:          live,
		queue:         queue,
		sendLimit:     sendLimit,
		windowSeconds: windowSeconds,
	}
}

// Send delivers one outbound text message. Retryable failures are enqueued
// for deferred redelivery before the error is returned.
func (d *Dispatcher) Send(ctx context.Context, tenantID, to, body string, autoGenerated bool) (*domain.Message, error) {
	msg, err := d.SendDirect(ctx, tenantID, to, body, autoGenerated)
	if err != nil && apperror.IsRetryable(err) {
		d.enqueueRetry(ctx, tenantID, msg, to, body, autoGenerated)
	}
	return msg, err
}

// SendDirect is Send without the retry enqueue. The queue runner uses it so a
// failing job backs off through the queue instead of re-enqueuing itself.
func (d *Dispatcher) SendDirect(ctx context.Context, tenantID, to, body string, autoGenerated bool) (*domain.Message, error) {
	tc, err := d.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if tc.Tenant.MonthlyQuota > 0 && tc.QuotaRemaining <= 0 {
		return nil, apperror.QuotaExceededError("monthly message quota exhausted")
	}

	if d.limiter != nil && !d.limiter.CheckAndIncrement(ctx, tenantID, "send_message", d.sendLimit, d.windowSeconds) {
		return nil, apperror.RateLimitedError("send rate limit exceeded")
	}

	contact, err := d.store.UpsertContact(ctx, tenantID, to, "")
	if err != nil {
		return nil, err
	}
	conversation, err := d.store.UpsertConversation(ctx, tenantID, contact.ID, time.Now())
	if err != nil {
		return nil, err
	}

	externalID, sendErr := d.deliver(ctx, tc, to, body)

	msg := &domain.Message{
		TenantID:          tenantID,
		ContactID:         contact.ID,
		ConversationID:    conversation.ID,
		ExternalMessageID: externalID,
		Direction:         domain.DirectionOutgoing,
		Type:              domain.TypeText,
		Body:              body,
		Status:            domain.StatusSent,
		AutoGenerated:     autoGenerated,
		Timestamp:         time.Now(),
	}
	if sendErr != nil {
		msg.Status = domain.StatusFailed
	}

	if err := d.store.InsertOutgoing(ctx, tenantID, msg); err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Error("[DISPATCH] Failed to persist outgoing message")
		if sendErr == nil {
			return msg, err
		}
	}

	if sendErr != nil {
		return msg, sendErr
	}

	if err := d.resolver.ConsumeQuota(ctx, tenantID, 1); err != nil {
		// The pre-check passed; losing the race here is billing noise, not a
		// delivery failure.
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Warn("[DISPATCH] Quota consume failed after delivery")
	}

	if err := d.store.TouchContact(ctx, tenantID, contact.ID, msg.Timestamp, false); err != nil {
		logrus.WithError(err).Warn("[DISPATCH] Failed to touch contact after send")
	}

	return msg, nil
}

func (d *Dispatcher) deliver(ctx context.Context, tc *tenantdomain.TenantContext, to, body string) (string, error) {
	if tc.HasPushAPI && d.push != nil {
		return d.push.SendText(tc.Tenant.PushEndpoint, tc.Tenant.PushPhoneID, tc.Tenant.PushAccessToken, to, body)
	}
	if d.live != nil && d.live.HasReadySession(tc.Tenant.ID) {
		return d.live.SendText(ctx, tc.Tenant.ID, to, body)
	}
	return "", apperror.NoActiveChannelError("tenant has no push credentials and no ready session")
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, tenantID string, msg *domain.Message, to, body string, autoGenerated bool) {
	if d.queue == nil {
		return
	}

	payload, err := json.Marshal(SendJobPayload{To: to, Body: body, AutoGenerated: autoGenerated})
	if err != nil {
		logrus.WithError(err).Error("[DISPATCH] Failed to encode retry payload")
		return
	}

	referenceID := to
	if msg != nil && msg.ID != "" {
		referenceID = msg.ID
	}

	inserted, err := d.queue.Enqueue(ctx, &jobdomain.Job{
		TenantID:    tenantID,
		Type:        JobTypeSendMessage,
		ReferenceID: referenceID,
		Payload:     string(payload),
	})
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Error("[DISPATCH] Failed to enqueue send retry")
		return
	}
	if inserted {
		logrus.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"to":        to,
		}).Info("[DISPATCH] Send deferred to retry queue")
	}
}

// HandleSendJob is the queue handler for deferred sends. Only transient
// failures propagate into the queue's backoff; permanent rejections complete
// the job, with the failed message row as the record.
func (d *Dispatcher) HandleSendJob(ctx context.Context, job *jobdomain.Job) error {
	var payload SendJobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return apperror.NewPermanentSendError("malformed send job payload")
	}

	_, err := d.SendDirect(ctx, job.TenantID, payload.To, payload.Body, payload.AutoGenerated)
	if err == nil {
		return nil
	}
	if _, rateLimited := err.(apperror.RateLimitedError); rateLimited || apperror.IsRetryable(err) {
		return err
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
	}).Warn("[DISPATCH] Dropping deferred send after permanent failure")
	return nil
}
