package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leasehold/apiserver/internal/storage"
)

const sniffBytes = 3072

// AssetOpener reads stored assets back.
type AssetOpener interface {
	Open(ctx context.Context, namespace, filename string) (io.ReadCloser, error)
}

// AssetHandler serves uploaded pictures.
type AssetHandler struct {
	assets AssetOpener
}

func NewAssetHandler(assets AssetOpener) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// AssetRouter registers the picture route on the given router.
func AssetRouter(r chi.Router, assets AssetOpener) {
	handler := NewAssetHandler(assets)
	r.Get("/{filename}", handler.ServeImage)
}

// ServeImage streams an image. The content type is sniffed from the bytes
// rather than trusted from the upload, and a stored object that is not a
// raster image is reported as missing. Names are never reused, so responses
// may be cached indefinitely.
func (h *AssetHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	reader, err := h.assets.Open(r.Context(), storage.ImagesNamespace, chi.URLParam(r, "filename"))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer reader.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	head = head[:n]

	contentType, ok := storage.DetectImage(head)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, io.MultiReader(bytes.NewReader(head), reader))
}
