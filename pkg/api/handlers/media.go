package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"pairchat/pkg/logger"
	"pairchat/pkg/media"
	"pairchat/pkg/utils"
)

var mediaStore media.Storage

// RegisterMedia registers the attachment upload endpoint on the /v1/media
// subrouter. When storage is nil the endpoint reports 503.
func RegisterMedia(r *mux.Router, s media.Storage) {
	mediaStore = s
	r.HandleFunc("", uploadMedia).Methods(http.MethodPost)
	r.HandleFunc("/", uploadMedia).Methods(http.MethodPost)
}

func uploadMedia(w http.ResponseWriter, r *http.Request) {
	if mediaStore == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "media storage not configured")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "multipart field 'file' required")
		return
	}
	defer f.Close()

	url, kind, err := mediaStore.Save(r.Context(), hdr.Filename, f)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		logger.Error("media_upload_failed", "name", hdr.Filename, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	utils.JSONWrite(w, http.StatusCreated, map[string]string{
		"url":          url,
		"content_type": string(kind),
	})
}
