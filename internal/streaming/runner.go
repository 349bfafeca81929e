package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/metrics"
	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/upstream"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// LineStream is the slice of the upstream stream the runner consumes: one
// "data:" payload per call, io.EOF on clean end.
type LineStream interface {
	Next() (string, error)
	Close() error
}

// OpenFunc opens one upstream streaming attempt.
type OpenFunc func(ctx context.Context) (LineStream, error)

// EmitFunc delivers one event to the client. A returned error means the
// client is gone; the runner stops without invoking the completion callback.
type EmitFunc func(event protocol.StreamEvent) error

// CompleteFunc runs exactly once after the terminal response.completed event,
// with the final response and the reconstructed assistant turn (nil when the
// upstream produced neither text nor complete tool calls).
type CompleteFunc func(ctx context.Context, final protocol.ResponsesResponse, assistant *protocol.ChatMessage) error

// doneSentinel ends an upstream stream even when the connection lingers.
const doneSentinel = "[DONE]"

// Run drives one streamed response: it opens the upstream stream, feeds
// chunks through the bridge and emits the resulting events.
//
// Failure rules: upstream failures before anything was emitted are retried
// under the policy (response.created is only written once data arrives, which
// keeps the whole open+first-read window retryable); once any event reached
// the client the stream is committed and failures turn into a terminal
// response.failed. A failure that outlives the retry budget before first
// emission still produces response.created followed by response.failed, so
// the client always sees a well-formed event sequence.
func Run(ctx context.Context, open OpenFunc, bridge *Bridge, policy upstream.Policy, emit EmitFunc, onComplete CompleteFunc, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	emitted := false
	send := func(events ...protocol.StreamEvent) error {
		for _, event := range events {
			if err := emit(event); err != nil {
				return fmt.Errorf("write %s event: %w", event.Name, err)
			}
			emitted = true
		}
		return nil
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		upstreamErr, writeErr := consumeAttempt(ctx, open, bridge, send)
		if writeErr != nil {
			return writeErr
		}
		if upstreamErr == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reason, retryable := retryReason(upstreamErr)
		if emitted || !retryable || attempt >= attempts {
			logger.Warn("upstream stream failed",
				zap.Int("attempt", attempt),
				zap.Error(upstreamErr))
			if !emitted {
				if err := send(bridge.StartEvents()...); err != nil {
					return err
				}
			}
			return send(bridge.FailureEvent(failureMessage(upstreamErr)))
		}

		metrics.UpstreamRetriesTotal.WithLabelValues(reason).Inc()
		logger.Warn("retrying upstream stream",
			zap.Int("attempt", attempt),
			zap.Error(upstreamErr))
		if err := policy.Sleep(ctx, attempt); err != nil {
			return err
		}
	}

	// A clean stream that carried no data lines still owes the client a
	// response.created before the terminal response.completed.
	if !emitted {
		if err := send(bridge.StartEvents()...); err != nil {
			return err
		}
	}
	if err := send(bridge.FinishEvents()...); err != nil {
		return err
	}

	if onComplete != nil {
		if err := onComplete(ctx, bridge.FinalResponse(), bridge.AssistantMessage()); err != nil {
			logger.Warn("stream completion callback failed", zap.Error(err))
		}
	}
	return nil
}

// consumeAttempt reads one upstream stream to its end. The two error returns
// separate upstream trouble (maybe retryable) from client write trouble
// (always terminal).
func consumeAttempt(ctx context.Context, open OpenFunc, bridge *Bridge, send func(...protocol.StreamEvent) error) (upstreamErr, writeErr error) {
	stream, err := open(ctx)
	if err != nil {
		return err, nil
	}
	defer stream.Close()

	started := false
	for {
		data, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return err, nil
		}

		if !started {
			started = true
			if err := send(bridge.StartEvents()...); err != nil {
				return nil, err
			}
		}
		if data == doneSentinel {
			return nil, nil
		}

		var chunk protocol.ChatStreamChunk
		if err := jsonFast.UnmarshalFromString(data, &chunk); err != nil {
			return &decodeError{data: data, err: err}, nil
		}
		if err := send(bridge.ProcessChunk(chunk)...); err != nil {
			return nil, err
		}
	}
}

// decodeError marks a malformed upstream chunk; never retried, the upstream
// is speaking but broken.
type decodeError struct {
	data string
	err  error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode upstream chunk: %v", e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

// retryReason classifies an upstream failure for the retry decision and the
// retry metric label.
func retryReason(err error) (string, bool) {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		if upstream.RetryableStatus(statusErr.StatusCode) {
			return "status", true
		}
		return "", false
	}
	var malformed *decodeError
	if errors.As(err, &malformed) {
		return "", false
	}
	return "transport", true
}

// failureMessage extracts the human-readable message for a response.failed
// event.
func failureMessage(err error) string {
	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		return upstream.ExtractErrorMessage(statusErr.Body)
	}
	return err.Error()
}
