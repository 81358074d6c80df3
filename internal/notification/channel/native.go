package channel

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"clubnotify/internal/notification/domain"
	subdomain "clubnotify/internal/subscription/domain"
	"clubnotify/pkg/fcm"
	"clubnotify/pkg/metrics"
)

// PushProvider sends index-aligned batches of native push messages.
type PushProvider interface {
	SendBatch(ctx context.Context, msgs []fcm.Message) ([]fcm.Response, error)
}

type NativeSender struct {
	provider  PushProvider
	batchSize int
	logger    zerolog.Logger
}

// NewNativeSender sends in batches of batchSize, capped at the provider
// limit of fcm.MaxBatchSize.
func NewNativeSender(provider PushProvider, batchSize int, logger zerolog.Logger) *NativeSender {
	if batchSize <= 0 || batchSize > fcm.MaxBatchSize {
		batchSize = fcm.MaxBatchSize
	}
	return &NativeSender{provider: provider, batchSize: batchSize, logger: logger}
}

func (s *NativeSender) Channel() subdomain.Channel { return subdomain.ChannelNativePush }

// Send chunks subs into provider batches and maps each
// response back to its subscription by index.
func (s *NativeSender) Send(ctx context.Context, p domain.Payload, subs []*subdomain.Subscription) []domain.Outcome {
	out := make([]domain.Outcome, len(subs))

	// Only well-formed native endpoints go to the provider; pos maps a
	// batch index back to the subscription index.
	var (
		msgs []fcm.Message
		pos  []int
	)
	for i, sub := range subs {
		ep, ok := sub.Endpoint.(subdomain.NativeEndpoint)
		if !ok {
			out[i] = wrongEndpoint(sub, s.Channel())
			continue
		}
		msgs = append(msgs, fcm.Message{
			Token:    ep.Token,
			Platform: string(ep.Platform),
			Title:    p.Title,
			Body:     p.Body,
			ImageURL: p.ImageURL,
			Icon:     p.Icon,
			Data:     p.Data,
		})
		pos = append(pos, i)
	}

	for start := 0; start < len(msgs); start += s.batchSize {
		end := min(start+s.batchSize, len(msgs))
		started := time.Now()
		resps, err := s.provider.SendBatch(ctx, msgs[start:end])
		metrics.ProviderBatchDuration.WithLabelValues(string(s.Channel())).Observe(time.Since(started).Seconds())
		if err != nil {
			s.logger.Warn().Err(err).Int("batch_size", end-start).Msg("native push batch failed")
		}

		for j := start; j < end; j++ {
			i := pos[j]
			o := baseOutcome(subs[i], s.Channel())
			k := j - start
			switch {
			case err != nil:
				o.ErrorCode = "provider-error"
				o.Error = err.Error()
			case k >= len(resps):
				o.ErrorCode = fcm.CodeUnknown
				o.Error = "provider returned no response for message"
			case resps[k].Success:
				o.Success = true
				o.MessageID = resps[k].MessageID
			default:
				o.ErrorCode = resps[k].ErrorCode
				o.Error = resps[k].ErrorMessage
				o.Terminal = fcm.IsTerminal(resps[k].ErrorCode)
			}
			out[i] = o
		}
	}
	return out
}
