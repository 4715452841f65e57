package application

import (
	"context"
	"time"

	"github.com/flowdesk/msggate/messaging/domain"
	"github.com/flowdesk/msggate/pkg/msgworker"
	"github.com/sirupsen/logrus"

	autoreplyapp "github.com/flowdesk/msggate/autoreply/application"
	autoreplydomain "github.com/flowdesk/msggate/autoreply/domain"
	tenantapp "github.com/flowdesk/msggate/tenant/application"
	tenantdomain "github.com/flowdesk/msggate/tenant/domain"
)

// IngestSummary is what a webhook batch produced. Returned to the caller so
// the HTTP layer can report it without re-querying.
type IngestSummary struct {
	Persisted     int `json:"persisted"`
	Duplicates    int `json:"duplicates"`
	Dropped       int `json:"dropped"`
	StatusUpdates int `json:"status_updates"`
	AutoReplies   int `json:"auto_replies"`
}

// Pipeline is the single inbound path. Both intake surfaces (provider
// webhooks and live sessions) normalize into InboundEvent and run the same
// stages: dedupe, contact and conversation upsert, persist, auto-reply.
type Pipeline struct {
	resolver     *tenantapp.Resolver
	store        domain.IMessageStore
	matcher      *autoreplyapp.Matcher
	dispatcher   *Dispatcher
	dedupeWindow time.Duration
	pool         *msgworker.Pool
}

func NewPipeline(
	resolver *tenantapp.Resolver,
	store domain.IMessageStore,
	matcher *autoreplyapp.Matcher,
	dispatcher *Dispatcher,
	dedupeWindow time.Duration,
) *Pipeline {
	if dedupeWindow <= 0 {
		dedupeWindow = 10 * time.Second
	}
	return &Pipeline{
		resolver:     resolver,
		store:        store,
		matcher:      matcher,
		dispatcher:   dispatcher,
		dedupeWindow: dedupeWindow,
	}
}

// SetWorkerPool makes auto replies go through the sharded pool, so replies to
// one destination stay ordered and webhook handling never blocks on a send.
func (p *Pipeline) SetWorkerPool(pool *msgworker.Pool) {
	p.pool = pool
}

// IngestWebhook processes one provider callback for the tenant. Per-message
// failures are logged and counted, not fatal: the provider retries the whole
// batch on a non-2xx, which would duplicate the messages that did land.
func (p *Pipeline) IngestWebhook(ctx context.Context, tenantID string, payload *WebhookPayload) (*IngestSummary, error) {
	tc, err := p.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	inbound, statuses := NormalizeWebhook(tenantID, payload)
	summary := &IngestSummary{}

	for _, ev := range inbound {
		p.ingestOne(ctx, tc, ev, summary)
	}

	for _, st := range statuses {
		if err := p.store.UpdateStatusByExternalID(ctx, tenantID, st.ExternalMessageID, st.Status); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"tenant_id":  tenantID,
				"message_id": st.ExternalMessageID,
			}).Warn("[PIPELINE] Failed to apply delivery status")
			continue
		}
		summary.StatusUpdates++
	}

	return summary, nil
}

// IngestLive processes one message from a connected live session.
func (p *Pipeline) IngestLive(ctx context.Context, msg LiveMessage) error {
	tc, err := p.resolver.Resolve(ctx, msg.TenantID)
	if err != nil {
		return err
	}

	ev := NormalizeLive(msg)
	if ev.ExternalAddress == "" || ev.Empty() {
		return nil
	}

	summary := &IngestSummary{}
	p.ingestOne(ctx, tc, ev, summary)
	return nil
}

func (p *Pipeline) ingestOne(ctx context.Context, tc *tenantdomain.TenantContext, ev domain.InboundEvent, summary *IngestSummary) {
	tenantID := tc.Tenant.ID

	contact, err := p.store.UpsertContact(ctx, tenantID, ev.ExternalAddress, ev.DisplayName)
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Error("[PIPELINE] Contact upsert failed")
		summary.Dropped++
		return
	}

	// Messages without a provider id fall back to a short content window so a
	// double-delivered live event is still collapsed.
	if ev.ExternalMessageID == "" {
		if _, err := p.store.FindRecentByContent(ctx, tenantID, contact.ID, ev.Body,
			domain.DirectionIncoming, time.Now().Add(-p.dedupeWindow)); err == nil {
			summary.Duplicates++
			return
		} else if err != domain.ErrMessageNotFound {
			logrus.WithError(err).Warn("[PIPELINE] Content dedupe probe failed")
		}
	}

	conversation, err := p.store.UpsertConversation(ctx, tenantID, contact.ID, ev.Timestamp)
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Error("[PIPELINE] Conversation upsert failed")
		summary.Dropped++
		return
	}

	msg := &domain.Message{
		TenantID:          tenantID,
		ContactID:         contact.ID,
		ConversationID:    conversation.ID,
		ExternalMessageID: ev.ExternalMessageID,
		Type:              ev.Type,
		Body:              ev.Body,
		MediaRef:          ev.MediaRef,
		Timestamp:         ev.Timestamp,
	}

	persisted, created, err := p.store.InsertIncoming(ctx, tenantID, msg)
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).
			Error("[PIPELINE] Message persist failed")
		summary.Dropped++
		return
	}
	if !created {
		summary.Duplicates++
		return
	}
	summary.Persisted++

	if err := p.store.TouchContact(ctx, tenantID, contact.ID, persisted.Timestamp, true); err != nil {
		logrus.WithError(err).Warn("[PIPELINE] Failed to touch contact activity")
	}

	if p.maybeAutoReply(ctx, tc, contact, persisted) {
		summary.AutoReplies++
	}
}

// maybeAutoReply runs the matcher and dispatches the reply. Reply failures
// never fail the ingest; the incoming message is already durable.
func (p *Pipeline) maybeAutoReply(ctx context.Context, tc *tenantdomain.TenantContext, contact *domain.Contact, msg *domain.Message) bool {
	if p.matcher == nil || p.dispatcher == nil || !msg.IsTextBearing() {
		return false
	}

	rule, err := p.matcher.Match(ctx, tc.Tenant.ID, msg.Body, autoreplydomain.ContactFacts{
		DisplayName:  contact.DisplayName,
		Stage:        contact.Stage,
		MessageCount: contact.MessageCount + 1,
	})
	if err != nil {
		logrus.WithError(err).WithField("tenant_id", tc.Tenant.ID).
			Warn("[PIPELINE] Rule matching failed")
		return false
	}
	if rule == nil {
		return false
	}

	tenantID := tc.Tenant.ID
	address := contact.ExternalAddress
	replyText := rule.ReplyText
	ruleID := rule.ID

	if p.pool != nil {
		return p.pool.TryDispatch(msgworker.Job{
			TenantID: tenantID,
			Address:  address,
			Handler: func(jobCtx context.Context) error {
				_, err := p.dispatcher.Send(jobCtx, tenantID, address, replyText, true)
				return err
			},
		})
	}

	if _, err := p.dispatcher.Send(ctx, tenantID, address, replyText, true); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"rule_id":   ruleID,
		}).Warn("[PIPELINE] Auto reply send failed")
		return false
	}
	return true
}
