package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/ids"
	"github.com/openbridge/openbridge/internal/logging"
	"github.com/openbridge/openbridge/internal/metrics"
	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/state"
	"github.com/openbridge/openbridge/internal/streaming"
	"github.com/openbridge/openbridge/internal/trace"
	"github.com/openbridge/openbridge/internal/translate"
	"github.com/openbridge/openbridge/internal/upstream"
)

// CreateResponse handles POST /v1/responses: translate, call upstream, and
// answer in Responses form, buffered or streamed.
func (h *Handler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	var req protocol.ResponsesRequest
	if err := jsonFast.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apiError(http.StatusUnprocessableEntity, "invalid request body: "+err.Error()))
		return
	}
	if err := validateCreate(req); err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	requestID := logging.RequestID(ctx)
	logger := h.logger.With(zap.String("request_id", requestID))

	rec := h.tracer.Begin(requestID, r.Method, r.URL.Path, req.Stream)
	if rec != nil {
		rec.ResponsesRequest = h.tracer.Snapshot(req)
		h.tracer.Save(ctx, rec)
	}

	history, err := h.historyFor(ctx, req.PreviousResponseID)
	if err != nil {
		h.failTrace(ctx, rec, err)
		respondError(w, err)
		return
	}

	result, terr := translate.Request(req, h.registry, history, h.translateOptions())
	if terr != nil {
		apiErr := apiError(http.StatusBadRequest, terr.Error())
		h.failTrace(ctx, rec, apiErr)
		respondError(w, apiErr)
		return
	}

	responseID := ids.New("resp")
	createdAt := ids.NowUnix()
	if rec != nil {
		rec.ResponseID = responseID
		rec.ChatRequest = h.tracer.Snapshot(result.ChatRequest)
		rec.MessagesForState = h.tracer.Snapshot(result.MessagesForState)
		rec.ToolMap = h.tracer.Snapshot(result.ToolMap.FunctionNameMap)
		h.tracer.Save(ctx, rec)
	}

	if req.Stream {
		h.streamResponse(w, r, logger, req, result, responseID, createdAt, rec)
		return
	}
	h.bufferedResponse(w, r, logger, req, result, responseID, createdAt, rec)
}

// validateCreate enforces the two required request fields before translation.
func validateCreate(req protocol.ResponsesRequest) error {
	if req.Model == "" {
		return &Error{
			Status:  http.StatusUnprocessableEntity,
			Type:    TypeForStatus(http.StatusUnprocessableEntity),
			Message: "model is required",
			Param:   "model",
		}
	}
	if !req.Input.Present() {
		return &Error{
			Status:  http.StatusUnprocessableEntity,
			Type:    TypeForStatus(http.StatusUnprocessableEntity),
			Message: "input is required",
			Param:   "input",
		}
	}
	return nil
}

// historyFor loads the stored transcript behind previous_response_id.
func (h *Handler) historyFor(ctx context.Context, previousID string) ([]protocol.ChatMessage, error) {
	if previousID == "" {
		return nil, nil
	}
	if h.store == nil {
		return nil, apiError(http.StatusNotImplemented, "State store is disabled")
	}
	stored, err := h.store.Get(ctx, previousID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, apiError(http.StatusNotFound, "previous_response_id not found")
	}
	if err != nil {
		h.logger.Error("state get failed", zap.String("previous_response_id", previousID), zap.Error(err))
		return nil, apiError(http.StatusInternalServerError, "state store unavailable")
	}
	return stored.Messages, nil
}

// bufferedResponse drives one non-streaming completion.
func (h *Handler) bufferedResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, req protocol.ResponsesRequest, result *translate.Result, responseID string, createdAt int64, rec *trace.Record) {
	ctx := r.Context()

	payload, err := upstream.BuildPayload(result.ChatRequest)
	if err != nil {
		logger.Error("encode upstream payload failed", zap.Error(err))
		h.failTrace(ctx, rec, err)
		respondError(w, apiError(http.StatusInternalServerError, "internal server error"))
		return
	}

	resp, apiErr := h.callUpstream(ctx, logger, payload)
	if apiErr != nil {
		h.failTrace(ctx, rec, apiErr)
		respondError(w, apiErr)
		return
	}
	if rid := resp.RequestID(); rid != "" {
		logger.Info("upstream response received", zap.String("upstream_request_id", rid))
	}

	chatResponse, responses, err := h.buildResponses(resp, result, responseID, createdAt)
	if err != nil {
		logger.Error("decode upstream response failed", zap.Error(err))
		apiErr := apiError(http.StatusBadGateway, "Upstream returned an invalid completion")
		h.failTrace(ctx, rec, apiErr)
		respondError(w, apiErr)
		return
	}

	// Some upstreams occasionally answer 200 with an empty choices/message.
	// One full re-issue keeps short "OK"-style completions reliable.
	if len(responses.Output) == 0 && (req.MaxOutputTokens == nil || *req.MaxOutputTokens > 0) {
		logger.Warn("upstream returned empty output, retrying once")
		metrics.UpstreamRetriesTotal.WithLabelValues("empty").Inc()

		resp, apiErr = h.callUpstream(ctx, logger, payload)
		if apiErr != nil {
			h.failTrace(ctx, rec, apiErr)
			respondError(w, apiErr)
			return
		}
		if rid := resp.RequestID(); rid != "" {
			logger.Info("upstream response received on retry", zap.String("upstream_request_id", rid))
		}
		chatResponse, responses, err = h.buildResponses(resp, result, responseID, createdAt)
		if err != nil {
			logger.Error("decode upstream response failed", zap.Error(err))
			apiErr := apiError(http.StatusBadGateway, "Upstream returned an invalid completion")
			h.failTrace(ctx, rec, apiErr)
			respondError(w, apiErr)
			return
		}
		if len(responses.Output) == 0 {
			apiErr := apiError(http.StatusBadGateway, "Upstream returned empty completion")
			h.failTrace(ctx, rec, apiErr)
			respondError(w, apiErr)
			return
		}
	}

	assistant := assistantMessageOf(chatResponse)
	if err := h.persist(ctx, req, result, responseID, responses, assistant); err != nil {
		logger.Error("state save failed", zap.String("response_id", responseID), zap.Error(err))
		apiErr := apiError(http.StatusInternalServerError, "failed to persist response state")
		h.failTrace(ctx, rec, apiErr)
		respondError(w, apiErr)
		return
	}

	if rec != nil {
		rec.ResponsesResponse = h.tracer.Snapshot(responses)
		rec.AssistantMessage = h.tracer.Snapshot(assistant)
		rec.Upstream = map[string]any{"status": resp.StatusCode, "request_id": resp.RequestID()}
		h.tracer.Save(ctx, rec)
	}

	respondJSON(w, http.StatusOK, responses)
}

// streamResponse drives one SSE completion. Once the writer is committed,
// failures become response.failed events instead of status codes.
func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, logger *zap.Logger, req protocol.ResponsesRequest, result *translate.Result, responseID string, createdAt int64, rec *trace.Record) {
	ctx := r.Context()

	payload, err := upstream.BuildPayload(result.ChatRequest)
	if err != nil {
		logger.Error("encode upstream payload failed", zap.Error(err))
		h.failTrace(ctx, rec, err)
		respondError(w, apiError(http.StatusInternalServerError, "internal server error"))
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		logger.Error("sse setup failed", zap.Error(err))
		respondError(w, apiError(http.StatusInternalServerError, "streaming unsupported"))
		return
	}

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	bridge := streaming.NewBridge(responseID, result.ChatRequest.Model, createdAt, result.ToolMap)
	open := func(ctx context.Context) (streaming.LineStream, error) {
		return h.client.StreamChatCompletions(ctx, payload)
	}
	onComplete := func(cctx context.Context, final protocol.ResponsesResponse, assistant *protocol.ChatMessage) error {
		if err := h.persist(cctx, req, result, responseID, final, assistant); err != nil {
			return fmt.Errorf("persist response state: %w", err)
		}
		if rec != nil {
			rec.ResponsesResponse = h.tracer.Snapshot(final)
			rec.AssistantMessage = h.tracer.Snapshot(assistant)
			h.tracer.Save(cctx, rec)
		}
		return nil
	}

	if err := streaming.Run(ctx, open, bridge, h.retryPolicy(), sse.WriteEvent, onComplete, logger); err != nil {
		logger.Warn("stream aborted", zap.Error(err))
		h.failTrace(ctx, rec, err)
	}
}

// callUpstream performs one buffered upstream exchange under the retry
// policy. When the upstream rejects a payload field it names in its error,
// the call is reissued once without that field.
func (h *Handler) callUpstream(ctx context.Context, logger *zap.Logger, payload map[string]any) (*upstream.Response, *Error) {
	policy := h.retryPolicy()
	resp, err := upstream.CallWithRetry(ctx, h.client, payload, policy)
	if err != nil {
		logger.Error("upstream request failed", zap.Error(err))
		return nil, apiError(http.StatusBadGateway, "Upstream request failed")
	}
	if resp.StatusCode >= 400 {
		message := upstream.ExtractErrorMessage(resp.Body)
		if degraded := upstream.ApplyDegradeFields(payload, h.cfg.DegradeFields, message); degraded != nil {
			metrics.UpstreamRetriesTotal.WithLabelValues("degrade").Inc()
			logger.Warn("retrying upstream call without rejected fields",
				zap.String("upstream_error", message))
			resp, err = upstream.CallWithRetry(ctx, h.client, degraded, policy)
			if err != nil {
				logger.Error("upstream request failed", zap.Error(err))
				return nil, apiError(http.StatusBadGateway, "Upstream request failed")
			}
		}
	}
	if resp.StatusCode >= 400 {
		return nil, upstreamError(resp)
	}
	return resp, nil
}

// buildResponses decodes the upstream body and translates it.
func (h *Handler) buildResponses(resp *upstream.Response, result *translate.Result, responseID string, createdAt int64) (protocol.ChatResponse, protocol.ResponsesResponse, error) {
	var chatResponse protocol.ChatResponse
	if err := jsonFast.Unmarshal(resp.Body, &chatResponse); err != nil {
		return protocol.ChatResponse{}, protocol.ResponsesResponse{}, fmt.Errorf("decode upstream response: %w", err)
	}
	responses := translate.Response(chatResponse, result.ChatRequest.Model, result.ToolMap, responseID, createdAt)
	return chatResponse, responses, nil
}

// persist writes the stored transcript for a completed response, honoring
// store=false and a disabled store.
func (h *Handler) persist(ctx context.Context, req protocol.ResponsesRequest, result *translate.Result, responseID string, final protocol.ResponsesResponse, assistant *protocol.ChatMessage) error {
	if h.store == nil || (req.Store != nil && !*req.Store) {
		return nil
	}
	record := &state.StoredResponse{
		Response:        final,
		Messages:        messagesWithAssistant(result.MessagesForState, assistant),
		ToolFunctionMap: result.ToolMap.FunctionNameMap,
		Model:           result.ChatRequest.Model,
	}
	return h.store.Set(ctx, responseID, record, h.cfg.MemoryTTLSeconds)
}

// failTrace records a terminal error on the trace.
func (h *Handler) failTrace(ctx context.Context, rec *trace.Record, err error) {
	if rec == nil || err == nil {
		return
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		rec.Error = map[string]any{
			"status":  apiErr.Status,
			"type":    apiErr.Type,
			"message": apiErr.Message,
		}
	} else {
		rec.Error = map[string]any{"message": err.Error()}
	}
	h.tracer.Save(ctx, rec)
}

func (h *Handler) retryPolicy() upstream.Policy {
	return upstream.Policy{
		MaxAttempts: h.cfg.RetryMaxAttempts,
		Backoff:     h.cfg.RetryBackoffDuration(),
		MaxDelay:    h.cfg.RetryMaxDelay(),
	}
}

func (h *Handler) translateOptions() translate.Options {
	return translate.Options{
		ModelMapPath:    h.cfg.ModelMapPath,
		VendorPrefix:    h.cfg.DefaultVendorPrefix,
		MaxTokensBuffer: h.cfg.MaxTokensBuffer,
	}
}

func assistantMessageOf(chatResponse protocol.ChatResponse) *protocol.ChatMessage {
	if len(chatResponse.Choices) == 0 {
		return nil
	}
	return chatResponse.Choices[0].Message
}

func messagesWithAssistant(messages []protocol.ChatMessage, assistant *protocol.ChatMessage) []protocol.ChatMessage {
	if assistant == nil {
		return messages
	}
	out := make([]protocol.ChatMessage, 0, len(messages)+1)
	out = append(out, messages...)
	out = append(out, *assistant)
	return out
}
