package kernel

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openfang-project/openfang/internal/bus"
	"github.com/openfang-project/openfang/internal/cron"
	"github.com/openfang-project/openfang/internal/sessions"
)

// ChannelDeliverer delivers cron output to a channel adapter. Bridge
// already implements this shape against its registered channels; kept as
// its own interface here so this package has no dependency on bridge.
type ChannelDeliverer interface {
	Deliver(ctx context.Context, channel, chatID, content string) error
}

// CronDispatcher implements cron.Dispatcher against the agent registry:
// agent-turn jobs run through the same Registry every other kernel-handle
// operation uses, system events go out over the event bus, and delivery
// routes to a channel, the agent's last-used channel, or a webhook per
// job.Delivery.
type CronDispatcher struct {
	reg       *Registry
	events    bus.EventPublisher // optional
	deliverer ChannelDeliverer   // optional
	http      *http.Client
}

// NewCronDispatcher constructs a CronDispatcher. events and deliverer may
// be nil: system events are then only returned as the action output, and
// channel delivery then logs and drops instead of sending. Webhook
// delivery does not use the deliverer.
func NewCronDispatcher(reg *Registry, events bus.EventPublisher, deliverer ChannelDeliverer) *CronDispatcher {
	return &CronDispatcher{
		reg:       reg,
		events:    events,
		deliverer: deliverer,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// FireSystemEvent implements cron.Dispatcher: broadcasts the event text
// over the bus (if one is attached) and returns it as the action's
// output so a configured Delivery can still carry it onward.
func (d *CronDispatcher) FireSystemEvent(ctx context.Context, job *cron.Job, text string) cron.ActionResult {
	if d.events != nil {
		d.events.Broadcast(bus.Event{
			Name:    "cron",
			Payload: map[string]string{"job_id": job.ID.String(), "agent_id": job.AgentID, "text": text},
		})
	}
	return cron.ActionResult{Output: text}
}

// FireAgentTurn implements cron.Dispatcher: runs one blocking agent turn
// under the job's own cron session key, so scheduled runs never share
// history with the agent's interactive sessions.
func (d *CronDispatcher) FireAgentTurn(ctx context.Context, job *cron.Job, action cron.Action) cron.ActionResult {
	if action.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(action.TimeoutSecs)*time.Second)
		defer cancel()
	}
	sessionKey := sessions.BuildCronSessionKey(job.AgentID, job.ID.String(), uuid.NewString())
	result, err := d.reg.runOnSession(ctx, job.AgentID, sessionKey, action.Message)
	if err != nil {
		return cron.ActionResult{Err: err}
	}
	return cron.ActionResult{Output: result.Content}
}

// Deliver implements cron.Dispatcher: routes a fired job's output
// according to job.Delivery.
func (d *CronDispatcher) Deliver(ctx context.Context, job *cron.Job, result cron.ActionResult) {
	if result.Output == "" || result.Err != nil {
		return
	}
	switch job.Delivery.Kind {
	case cron.DeliveryNone, "":
		return
	case cron.DeliveryChannel:
		d.deliver(ctx, job.Delivery.Channel, job.Delivery.To, result.Output)
	case cron.DeliveryLastChannel:
		channel, chatID, ok := d.reg.LastUsedChannel(job.AgentID)
		if !ok {
			slog.Warn("cron: no last-used channel on record, dropping delivery", "job", job.ID, "agent", job.AgentID)
			return
		}
		d.deliver(ctx, channel, chatID, result.Output)
	case cron.DeliveryWebhook:
		d.postWebhook(ctx, job.Delivery.URL, result.Output)
	default:
		slog.Warn("cron: unknown delivery kind", "job", job.ID, "kind", job.Delivery.Kind)
	}
}

func (d *CronDispatcher) deliver(ctx context.Context, channel, chatID, content string) {
	if d.deliverer == nil {
		slog.Warn("cron: no channel deliverer configured, dropping delivery", "channel", channel, "chat", chatID)
		return
	}
	if err := d.deliverer.Deliver(ctx, channel, chatID, content); err != nil {
		slog.Error("cron: channel delivery failed", "channel", channel, "chat", chatID, "error", err)
	}
}

func (d *CronDispatcher) postWebhook(ctx context.Context, url, content string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(content)))
	if err != nil {
		slog.Error("cron: webhook request build failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := d.http.Do(req)
	if err != nil {
		slog.Error("cron: webhook delivery failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("cron: webhook delivery non-2xx", "url", url, "status", resp.StatusCode)
	}
}

var _ cron.Dispatcher = (*CronDispatcher)(nil)
