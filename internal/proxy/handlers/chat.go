package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/assets"
	"github.com/pysugar/gemini-relay/internal/config"
	"github.com/pysugar/gemini-relay/internal/logging"
	"github.com/pysugar/gemini-relay/internal/providers/catalog"
	"github.com/pysugar/gemini-relay/internal/proxy/attachments"
	"github.com/pysugar/gemini-relay/internal/proxy/mappers"
	"github.com/pysugar/gemini-relay/internal/upstream"
	"github.com/pysugar/gemini-relay/internal/util"
)

// ChatHandler handles /v1/chat/completions: flattens the turn list into
// one upstream exchange and re-emits the reply in the caller's shape,
// synchronously or as a simulated SSE stream.
func ChatHandler(cfg *config.Config, mgr *accounts.Manager, opener upstream.Opener, assetStore *assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetOrGenerateRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if IsVerbose() {
			log.Printf("📥 [%s] /v1/chat/completions request: %s", requestID, util.TruncateBytes(bodyBytes))
		}

		var req mappers.ChatRequest
		if err := json.Unmarshal(bodyBytes, &req); err != nil {
			writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			writeError(w, "messages must not be empty", http.StatusBadRequest)
			return
		}

		session, _, err := openSession(ctx, mgr, opener)
		if err != nil {
			writeExchangeError(w, err)
			return
		}
		defer closeSession(ctx, session)

		prompt, imageParts := mappers.FlattenPrompt(req.Messages)

		tempFiles, err := attachments.Materialize(ctx, imageParts)
		if err != nil {
			writeError(w, "Failed to fetch attachment: "+err.Error(), http.StatusBadRequest)
			return
		}
		// Attachments are removed on every exit path, success or not.
		defer attachments.Cleanup(tempFiles)

		log.Printf("📝 [%s] Prompt length: %d, attachments: %d", requestID, len(prompt), len(tempFiles))

		// Chat on an image model still goes through the single-exchange
		// path; only the generation flag changes.
		reply, err := session.Exchange(ctx, prompt, tempFiles, catalog.IsImageModel(req.Model))
		if err != nil {
			writeExchangeError(w, err)
			return
		}

		if req.Stream {
			streamReply(w, r, cfg, req.Model, reply.Text, requestID)
			return
		}

		resp := mappers.NewChatResponse(req.Model, replyContent(cfg, assetStore, reply, requestID))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// replyContent renders the upstream reply as message content. Generated
// images are persisted to the asset store and appended as URLs.
func replyContent(cfg *config.Config, assetStore *assets.Store, reply *upstream.Reply, requestID string) string {
	if len(reply.Images) == 0 {
		return reply.Text
	}

	var urls []string
	for _, img := range reply.Images {
		filename, err := assetStore.Save(assets.PrefixGenerated, img)
		if err != nil {
			log.Printf("❌ [%s] Failed to persist generated image: %v", requestID, err)
			continue
		}
		urls = append(urls, assetStore.URL(cfg.BaseURL, filename))
	}
	if len(urls) == 0 {
		return reply.Text
	}
	return strings.TrimRight(reply.Text+"\n\n"+strings.Join(urls, "\n"), "\n")
}

// streamReply re-segments an already complete reply into fixed-size
// chunks and emits them as SSE deltas with a small pacing delay. The
// upstream has no incremental delivery; only the emission is chunked.
func streamReply(w http.ResponseWriter, r *http.Request, cfg *config.Config, model, text, requestID string) {
	SetSSEHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	id := mappers.NewCompletionID()
	created := time.Now().Unix()

	for _, chunk := range mappers.ChunkRunes(text, cfg.StreamChunkSize) {
		data, err := json.Marshal(mappers.NewStreamChunk(id, created, model, chunk, nil))
		if err != nil {
			log.Printf("❌ [%s] Stream chunk marshal: %v", requestID, err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; deferred cleanup in the handler still runs.
			log.Printf("⚠️ [%s] Client disconnected mid-stream: %v", requestID, err)
			return
		}
		flusher.Flush()
		sleepFn(r.Context(), cfg.StreamDelay)
	}

	stop := "stop"
	final, err := json.Marshal(mappers.NewStreamChunk(id, created, model, "", &stop))
	if err != nil {
		log.Printf("❌ [%s] Stream final marshal: %v", requestID, err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", final)
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
