package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/settlrhq/settlr/internal/common"
	"github.com/settlrhq/settlr/internal/obs"
)

// TaskTypeDeliver is the queue task type for a single endpoint delivery.
const TaskTypeDeliver = "webhook:deliver"

// QueueName is the asynq queue webhook deliveries run on.
const QueueName = "webhooks"

type deliveryTask struct {
	EndpointID string `json:"endpointId"`
	Event      Event  `json:"event"`
}

// Dispatcher fans an event out to every subscribed endpoint as one queue task
// per endpoint, so a slow endpoint never delays the others.
type Dispatcher struct {
	Store       EndpointStore
	Tasks       *asynq.Client
	MaxAttempts int
	Enabled     bool
}

// Dispatch enqueues delivery tasks for each active endpoint of the merchant
// subscribed to the event type.
func (d *Dispatcher) Dispatch(ctx context.Context, merchantID string, event Event) error {
	if d == nil || !d.Enabled || d.Store == nil || d.Tasks == nil {
		return nil
	}
	endpoints, err := d.Store.ListActiveForType(ctx, merchantID, event.Type)
	if err != nil {
		return err
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	var joined error
	for _, ep := range endpoints {
		payload, err := json.Marshal(deliveryTask{EndpointID: ep.ID, Event: event})
		if err != nil {
			return err
		}
		if obs.WebhookDispatchAttempts != nil {
			obs.WebhookDispatchAttempts.Inc()
		}
		_, err = d.Tasks.EnqueueContext(ctx, asynq.NewTask(TaskTypeDeliver, payload),
			asynq.Queue(QueueName),
			asynq.MaxRetry(maxAttempts-1),
			asynq.Timeout(30*time.Second),
			asynq.TaskID(fmt.Sprintf("%s:%s", ep.ID, event.ID)),
		)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				continue
			}
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery for %s: %w", ep.ID, err))
		}
	}
	return joined
}

// Deliverer executes delivery tasks from the queue. A non-nil return makes the
// queue retry with backoff; exhausted tasks land in the archive for manual
// replay.
type Deliverer struct {
	Store     EndpointStore
	Client    *http.Client
	Replay    *redis.Client
	ReplayTTL time.Duration
	UserAgent string
	Log       zerolog.Logger
}

// Register attaches the deliverer to the queue mux.
func (dl *Deliverer) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeDeliver, dl.ProcessTask)
}

// ProcessTask delivers one event to one endpoint.
func (dl *Deliverer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task deliveryTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("decode delivery task: %v: %w", err, asynq.SkipRetry)
	}
	endpoint, err := dl.Store.Get(ctx, task.EndpointID)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			// Endpoint was deleted after dispatch; nothing to deliver.
			return nil
		}
		return err
	}
	if !endpoint.Active {
		return nil
	}
	if err := validateURL(endpoint.URL); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	body, err := wireBody(task.Event, endpoint.Secret)
	if err != nil {
		return fmt.Errorf("encode event: %v: %w", err, asynq.SkipRetry)
	}

	replayKey := fmt.Sprintf("wh:%s:%s", endpoint.ID, common.Sha256Hex(body))
	if dl.Replay != nil && dl.ReplayTTL > 0 {
		ok, err := dl.Replay.SetNX(ctx, replayKey, "1", dl.ReplayTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			dl.Log.Debug().Str("endpoint_id", endpoint.ID).Str("event_id", task.Event.ID).
				Msg("webhook delivery suppressed by replay guard")
			return nil
		}
	}

	start := time.Now()
	status, err := dl.deliver(ctx, endpoint, task.Event.ID, body)
	result := "delivered"
	if err != nil || status < 200 || status >= 300 {
		result = "failed"
	}
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		dl.releaseReplay(ctx, replayKey)
		return err
	}
	if status < 200 || status >= 300 {
		dl.releaseReplay(ctx, replayKey)
		return fmt.Errorf("endpoint %s responded %d", endpoint.ID, status)
	}
	dl.Log.Info().Str("endpoint_id", endpoint.ID).Str("event_id", task.Event.ID).
		Str("type", string(task.Event.Type)).Int("status", status).
		Msg("webhook delivered")
	return nil
}

// releaseReplay frees the replay key after a failed attempt so the retry is
// not suppressed.
func (dl *Deliverer) releaseReplay(ctx context.Context, key string) {
	if dl.Replay == nil || dl.ReplayTTL <= 0 {
		return
	}
	_ = dl.Replay.Del(ctx, key).Err()
}

// wireBody serializes the event for one endpoint. The embedded signature is
// an HMAC over the envelope with the signature field blank, so a receiver can
// check it by re-serializing the parsed event without the signature.
func wireBody(event Event, secret string) ([]byte, error) {
	event.Signature = ""
	unsigned, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	event.Signature = Sign(secret, unsigned)
	return json.Marshal(event)
}

func (dl *Deliverer) deliver(ctx context.Context, ep Endpoint, eventID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ua := dl.UserAgent
	if ua == "" {
		ua = "settlr-webhooks/1.0"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Signature", Sign(ep.Secret, body))

	resp, err := dl.httpClient().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

func (dl *Deliverer) httpClient() *http.Client {
	if dl.Client != nil {
		return dl.Client
	}
	dl.Client = &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return dl.Client
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}
