package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/assets"
	"github.com/pysugar/gemini-relay/internal/config"
	"github.com/pysugar/gemini-relay/internal/logging"
	"github.com/pysugar/gemini-relay/internal/providers/catalog"
	"github.com/pysugar/gemini-relay/internal/proxy/mappers"
	"github.com/pysugar/gemini-relay/internal/upstream"
)

const maxUploadMemory = 32 << 20 // 32MB before multipart spills to disk

// ImageGenerationHandler handles /v1/images/generations: text-to-image
// through the bounded overload-retry loop.
func ImageGenerationHandler(cfg *config.Config, mgr *accounts.Manager, opener upstream.Opener, assetStore *assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetOrGenerateRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		var req mappers.ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Prompt == "" {
			writeError(w, "prompt is required", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			req.Model = catalog.DefaultImageModel
		}

		log.Printf("🎨 [%s] Image generation prompt: %q (model: %s)", requestID, req.Prompt, req.Model)

		reply, err := runImageExchange(ctx, cfg, mgr, opener, req.Prompt, nil)
		if err != nil {
			writeExchangeError(w, err)
			return
		}

		writeImageResponse(w, cfg, assetStore, reply, req.Prompt, req.ResponseFormat, assets.PrefixGenerated, requestID)
	}
}

// ImageEditHandler handles /v1/images/edits: one reference image uploaded
// as multipart, attached to an image-capable exchange.
func ImageEditHandler(cfg *config.Config, mgr *accounts.Manager, opener upstream.Opener, assetStore *assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetOrGenerateRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		prompt := r.FormValue("prompt")
		if prompt == "" {
			writeError(w, "prompt is required", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, "image file is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		// Uploads go to the asset dir once, outside the retry loop, and
		// are reclaimed by the scheduled sweep rather than per-request.
		uploadName, err := assetStore.SaveStream(assets.PrefixUploaded, file)
		if err != nil {
			writeError(w, "Failed to store uploaded image: "+err.Error(), http.StatusInternalServerError)
			return
		}

		log.Printf("🎨 [%s] Image edit prompt: %q (file: %s)", requestID, prompt, uploadName)

		reply, err := runImageExchange(ctx, cfg, mgr, opener, prompt, []string{assetStore.Path(uploadName)})
		if err != nil {
			writeExchangeError(w, err)
			return
		}

		writeImageResponse(w, cfg, assetStore, reply, prompt, r.FormValue("response_format"), assets.PrefixEdited, requestID)
	}
}

// ImageMultiEditHandler handles /v1/images/edits/multi: several reference
// images feeding one generation.
func ImageMultiEditHandler(cfg *config.Config, mgr *accounts.Manager, opener upstream.Opener, assetStore *assets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := GetOrGenerateRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		prompt := r.FormValue("prompt")
		if prompt == "" {
			writeError(w, "prompt is required", http.StatusBadRequest)
			return
		}

		uploads := r.MultipartForm.File["images"]
		if len(uploads) == 0 {
			uploads = r.MultipartForm.File["images[]"]
		}
		if len(uploads) == 0 {
			writeError(w, "at least one image file is required", http.StatusBadRequest)
			return
		}

		var refPaths []string
		for _, header := range uploads {
			name, err := storeUpload(assetStore, header)
			if err != nil {
				writeError(w, "Failed to store uploaded image: "+err.Error(), http.StatusInternalServerError)
				return
			}
			refPaths = append(refPaths, assetStore.Path(name))
		}

		log.Printf("🎨 [%s] Multi-image edit prompt: %q (files: %d)", requestID, prompt, len(refPaths))

		reply, err := runImageExchange(ctx, cfg, mgr, opener, prompt, refPaths)
		if err != nil {
			writeExchangeError(w, err)
			return
		}

		writeImageResponse(w, cfg, assetStore, reply, prompt, r.FormValue("response_format"), assets.PrefixEdited, requestID)
	}
}

func storeUpload(assetStore *assets.Store, header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return assetStore.SaveStream(assets.PrefixUploaded, f)
}

// writeImageResponse persists each generated image under the purpose
// prefix and emits the result list, hosted URL or inline base64 per the
// caller's response_format.
func writeImageResponse(w http.ResponseWriter, cfg *config.Config, assetStore *assets.Store, reply *upstream.Reply, prompt, format, prefix, requestID string) {
	data := make([]mappers.ImageData, 0, len(reply.Images))
	for _, img := range reply.Images {
		entry := mappers.ImageData{RevisedPrompt: prompt}
		if format == "b64_json" {
			entry.B64JSON = base64.StdEncoding.EncodeToString(img)
		} else {
			filename, err := assetStore.Save(prefix, img)
			if err != nil {
				log.Printf("❌ [%s] Failed to persist generated image: %v", requestID, err)
				continue
			}
			entry.URL = assetStore.URL(cfg.BaseURL, filename)
		}
		data = append(data, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mappers.ImageResponse{
		Created: time.Now().Unix(),
		Data:    data,
	})
}
