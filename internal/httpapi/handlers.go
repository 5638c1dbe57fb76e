package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	genai "google.golang.org/genai"

	"ccbridge/internal/observability"
	"ccbridge/internal/protocol"
	"ccbridge/internal/router"
	"ccbridge/internal/stream"
)

// mapProtocolError maps a *protocol.TranslationError onto the HTTP error
// taxonomy by its Code (spec.md §7's BadRequest sub-kinds, plus the one
// EmptyResponse case FromGoogleResponse can itself raise). Any other error
// falls through to AsError's generic Internal wrapping.
func mapProtocolError(err error) *Error {
	var terr *protocol.TranslationError
	if errors.As(err, &terr) {
		if terr.Code == "empty_response" {
			return NewError(KindEmptyResponse, terr.Message, err)
		}
		return NewError(KindBadRequest, terr.Code+": "+terr.Message, err)
	}
	return AsError(err)
}

func writeError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.body())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, *Error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, NewError(KindBadRequest, "request body exceeds 32MiB limit", err)
		}
		return nil, NewError(KindBadRequest, "failed to read request body", err)
	}
	return raw, nil
}

// resolveEntry applies C6 to the canonical request's model, mutating
// req.Thinking with the router's default budget when the model implies
// thinking but the client didn't ask for it explicitly.
func (s *Server) resolveEntry(req *protocol.Request) (router.Entry, *Error) {
	entry, ok := s.router.Resolve(req.Model)
	if !ok {
		return router.Entry{}, NewError(KindBadRequest, "unknown model: "+req.Model, nil)
	}
	if req.Thinking == nil && entry.EnableThinking {
		req.Thinking = &protocol.Thinking{Enabled: true, BudgetTokens: router.ThinkingBudget()}
	}
	req.Model = entry.UpstreamID
	return entry, nil
}

// fallbackModel strips the 1M-context suffix from model, reporting ok=false
// if model doesn't carry one (SPEC_FULL.md §13's FALLBACK behavior only
// applies to 1M-context upstream ids).
func fallbackModel(model string) (string, bool) {
	if !strings.HasSuffix(model, router.OneMillionSuffix) {
		return "", false
	}
	return strings.TrimSuffix(model, router.OneMillionSuffix), true
}

// dispatchNonStreaming runs one upstream round trip, retrying exactly once
// on an EmptyResponse per spec.md §7 ("EmptyResponse is caught once inside
// the HTTP surface and retried... a second occurrence propagates"), and,
// when cfg.Fallback is set, retrying once more against the non-1M upstream
// id on an UpstreamFailure (SPEC_FULL.md §13).
func (s *Server) dispatchNonStreaming(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig, model string) (*genai.GenerateContentResponse, *Error) {
	resp, derr := s.dispatchNonStreamingOnce(ctx, contents, cfg, model)
	if derr != nil && derr.Kind == KindUpstreamFailure && s.cfg.Fallback {
		if fallback, ok := fallbackModel(model); ok {
			return s.dispatchNonStreamingOnce(ctx, contents, cfg, fallback)
		}
	}
	return resp, derr
}

// dispatchNonStreamingOnce is the single-model 2-attempt empty-response
// retry loop dispatchNonStreaming wraps with the FALLBACK model retry.
func (s *Server) dispatchNonStreamingOnce(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig, model string) (*genai.GenerateContentResponse, *Error) {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.upstream.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return nil, NewError(KindUpstreamFailure, "upstream request failed", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			if attempt == 0 {
				continue
			}
			return nil, NewError(KindEmptyResponse, "upstream returned no content after retry", nil)
		}
		return resp, nil
	}
	return nil, NewError(KindEmptyResponse, "upstream returned no content", nil)
}

func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	raw, berr := readBody(w, r)
	if berr != nil {
		writeError(w, berr)
		return
	}

	wireReq, err := protocol.ParseAnthropicRequest(raw)
	if err != nil {
		writeError(w, NewError(KindBadRequest, err.Error(), err))
		return
	}
	canon, err := wireReq.ToCanonical()
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}

	entry, rerr := s.resolveEntry(canon)
	if rerr != nil {
		writeError(w, rerr)
		return
	}

	contents, cfg, err := protocol.ToGoogleRequest(canon, s.cache, entry.Family)
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}

	if canon.Stream {
		s.streamAnthropic(w, r, contents, cfg, canon.Model, entry.Family)
		return
	}

	resp, derr := s.dispatchNonStreaming(r.Context(), contents, cfg, canon.Model)
	if derr != nil {
		writeError(w, derr)
		return
	}
	canonResp, err := protocol.FromGoogleResponse(resp, canon.Model)
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(protocol.RenderAnthropicResponse(canonResp))
}

func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	raw, berr := readBody(w, r)
	if berr != nil {
		writeError(w, berr)
		return
	}

	wireReq, err := protocol.ParseOpenAIRequest(raw)
	if err != nil {
		writeError(w, NewError(KindBadRequest, err.Error(), err))
		return
	}
	canon, err := wireReq.ToCanonical()
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}

	entry, rerr := s.resolveEntry(canon)
	if rerr != nil {
		writeError(w, rerr)
		return
	}

	contents, cfg, err := protocol.ToGoogleRequest(canon, s.cache, entry.Family)
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}

	if canon.Stream {
		s.streamOpenAI(w, r, contents, cfg, canon.Model, entry.Family)
		return
	}

	resp, derr := s.dispatchNonStreaming(r.Context(), contents, cfg, canon.Model)
	if derr != nil {
		writeError(w, derr)
		return
	}
	canonResp, err := protocol.FromGoogleResponse(resp, canon.Model)
	if err != nil {
		writeError(w, mapProtocolError(err))
		return
	}
	out, err := protocol.RenderOpenAIResponse(canonResp)
	if err != nil {
		writeError(w, AsError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) streamAnthropic(w http.ResponseWriter, r *http.Request, contents []*genai.Content, cfg *genai.GenerateContentConfig, model, family string) {
	sw, err := stream.NewWriter(w)
	if err != nil {
		writeError(w, NewError(KindInternal, "streaming unsupported", err))
		return
	}
	s.runPipeline(r, sw, contents, cfg, model, family)
}

func (s *Server) streamOpenAI(w http.ResponseWriter, r *http.Request, contents []*genai.Content, cfg *genai.GenerateContentConfig, model, family string) {
	rw, err := stream.NewRawChunkWriter(w)
	if err != nil {
		writeError(w, NewError(KindInternal, "streaming unsupported", err))
		return
	}
	sink := stream.NewReframeSink(rw, model)
	s.runPipeline(r, sink, contents, cfg, model, family)
	_ = rw.WriteDone()
}

// runPipeline drives C5 against the upstream stream, feeding translated
// events to sink, and supervises the idle timeout described in spec.md §4.5.
// An upstream stream that ends without ever producing a part is retried
// once (spec.md §4.5 / S6), mirroring dispatchNonStreaming's non-streaming
// retry-once rule; a second empty stream is surfaced to the client as a
// terminal error event instead of a second silent retry. An upstream chunk
// error retries once against the non-1M model id when cfg.Fallback is set
// (SPEC_FULL.md §13), independently of the empty-response retry.
func (s *Server) runPipeline(r *http.Request, sink stream.Sink, contents []*genai.Content, cfg *genai.GenerateContentConfig, model, family string) {
	log := observability.LoggerWithTrace(r.Context())

	emptyRetried := false
	fellBack := false

	for {
		pipeline := stream.NewPipeline(sink, s.cache, model, family, "msg_"+randomStreamID())
		aborted, err := s.runPipelineOnce(r, pipeline, contents, cfg, model, log)
		if aborted {
			return
		}
		if err == nil {
			return
		}

		var ufErr *upstreamFailureError
		if errors.As(err, &ufErr) {
			if !fellBack && !pipeline.HasStarted() && s.cfg.Fallback {
				if fallback, ok := fallbackModel(model); ok {
					log.Warn().Str("fallback_model", fallback).Msg("upstream_stream_failure_fallback_retry")
					fellBack = true
					model = fallback
					continue
				}
			}
			log.Error().Err(ufErr.cause).Msg("upstream_stream_error")
			_ = pipeline.EmitError(string(KindUpstreamFailure), ufErr.cause.Error())
			return
		}

		var terr *protocol.TranslationError
		if errors.As(err, &terr) && terr.Code == "empty_response" {
			if !emptyRetried {
				emptyRetried = true
				log.Warn().Msg("upstream_stream_empty_response_retry")
				continue
			}
			log.Error().Msg("upstream_stream_empty_response_after_retry")
			_ = pipeline.EmitError(string(KindEmptyResponse), terr.Message)
			return
		}

		log.Error().Err(err).Msg("pipeline_close_error")
		return
	}
}

// runPipelineOnce drives one upstream stream attempt to completion. aborted
// reports that the attempt ended terminally and the caller must not retry or
// emit anything further: either the request context was cancelled (a client
// disconnect emits nothing), or an idle timeout or a HandleChunk failure
// already sent a terminal error event to the sink. A chunk-stream error
// is returned wrapped in *upstreamFailureError rather than emitted directly,
// so runPipeline can attempt a FALLBACK retry before any terminal event
// reaches the client.
func (s *Server) runPipelineOnce(r *http.Request, pipeline *stream.Pipeline, contents []*genai.Content, cfg *genai.GenerateContentConfig, model string, log *zerolog.Logger) (aborted bool, err error) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	idle := stream.NewIdleMonitor()
	go idle.Watch(ctx, cancel, func(idleFor time.Duration) {
		log.Warn().Dur("idle_for", idleFor).Msg("upstream_stream_idle")
	}, func(info stream.IdleTimeoutInfo) {
		log.Error().Dur("idle_for", info.IdleFor).Int("chunks", info.ChunkCount).Int64("bytes", info.ByteCount).Msg("upstream_stream_idle_timeout")
		_ = pipeline.EmitError(string(KindStreamIdleTimeout), fmt.Sprintf("upstream stream idle for %s (%d chunks, %d bytes received)",
			info.IdleFor.Round(time.Second), info.ChunkCount, info.ByteCount))
	})

	seq := s.upstream.GenerateContentStream(ctx, model, contents, cfg)
	for chunk, chunkErr := range seq {
		if ctx.Err() != nil {
			return true, nil
		}
		if chunkErr != nil {
			return false, &upstreamFailureError{cause: chunkErr}
		}
		idle.Touch(approximateChunkSize(chunk))
		if err := pipeline.HandleChunk(chunk); err != nil {
			log.Error().Err(err).Msg("pipeline_handle_chunk_error")
			_ = pipeline.EmitError(string(KindInternal), err.Error())
			return true, nil
		}
	}
	if ctx.Err() != nil {
		return true, nil
	}
	return false, pipeline.Close()
}

func approximateChunkSize(chunk *genai.GenerateContentResponse) int {
	if chunk == nil || len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
		return 0
	}
	n := 0
	for _, part := range chunk.Candidates[0].Content.Parts {
		n += len(part.Text)
	}
	return n
}

type modelListEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string           `json:"object"`
	Data   []modelListEntry `json:"data"`
}

// handleModels is a supplemented feature (SPEC_FULL.md §12): IDEs probing
// `GET /v1/models` to populate a model picker get the router's static
// table back in OpenAI's listing shape.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for name := range s.router.All() {
		names = append(names, name)
	}
	sort.Strings(names)

	out := modelListResponse{Object: "list"}
	for _, name := range names {
		out.Data = append(out.Data, modelListEntry{ID: name, Object: "model", OwnedBy: "ccbridge"})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func randomStreamID() string {
	return protocol.NewToolUseID()[len("toolu_"):]
}
