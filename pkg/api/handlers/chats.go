package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/logger"
	"pairchat/pkg/media"
	"pairchat/pkg/models"
	"pairchat/pkg/utils"
	"pairchat/pkg/validation"
)

var svc *chat.Service

// RegisterChats registers the messaging endpoints on r, which is expected
// to be the /v1/chats subrouter with identity middleware applied.
func RegisterChats(r *mux.Router, s *chat.Service) {
	svc = s

	r.HandleFunc("/messages", sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/read", markRead).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", editMessage).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/reactions", addReaction).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/reactions", removeReaction).Methods(http.MethodDelete)

	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", listMessages).Methods(http.MethodGet)

	r.HandleFunc("/users/{id}/status", userStatus).Methods(http.MethodGet)
}

// writeErr maps service errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, chat.ErrNotParticipant), errors.Is(err, chat.ErrNotSender):
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, validation.ErrEmptyContent), errors.Is(err, validation.ErrSelfMessage):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("request_failed", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func sendMessage(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	req := chat.SendRequest{Sender: uid}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		// message and attachment in one request
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		req.Receiver = r.FormValue("receiver")
		req.Content = r.FormValue("content")
		req.ClientID = r.FormValue("client_id")
		if f, hdr, err := r.FormFile("file"); err == nil {
			defer f.Close()
			if svc.Media == nil {
				utils.JSONError(w, http.StatusServiceUnavailable, "media storage not configured")
				return
			}
			url, kind, err := svc.Media.Save(r.Context(), hdr.Filename, f)
			if err != nil {
				if errors.Is(err, media.ErrTooLarge) {
					utils.JSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
					return
				}
				logger.Error("media_upload_failed", "name", hdr.Filename, "error", err)
				utils.JSONError(w, http.StatusInternalServerError, "upload failed")
				return
			}
			req.MediaURL = url
			req.ContentType = kind
		}
	} else {
		var body struct {
			Receiver    string             `json:"receiver"`
			Content     string             `json:"content"`
			ClientID    string             `json:"client_id"`
			MediaURL    string             `json:"media_url"`
			ContentType models.ContentType `json:"content_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		req.Receiver = body.Receiver
		req.Content = body.Content
		req.ClientID = body.ClientID
		req.MediaURL = body.MediaURL
		req.ContentType = body.ContentType
	}

	msg, err := svc.SendMessage(r.Context(), req)
	if err != nil {
		writeSendErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusCreated, msg)
}

// writeSendErr treats every send failure except internal ones as a 400,
// since the inputs all come from the request body.
func writeSendErr(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrNotParticipant) {
		writeErr(w, err)
		return
	}
	utils.JSONError(w, http.StatusBadRequest, err.Error())
}

func listConversations(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	convs, err := svc.FetchConversations(r.Context(), uid)
	if err != nil {
		writeErr(w, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	utils.JSONWrite(w, http.StatusOK, convs)
}

func listMessages(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	convID := mux.Vars(r)["id"]
	msgs, err := svc.FetchMessages(r.Context(), uid, convID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	utils.JSONWrite(w, http.StatusOK, msgs)
}

func markRead(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	var body struct {
		Conversation string   `json:"conversation"`
		MessageIDs   []string `json:"message_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	changed, err := svc.MarkRead(r.Context(), uid, body.Conversation, body.MessageIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]int{"updated": len(changed)})
}

func addReaction(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]
	var body struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := svc.AddReaction(r.Context(), uid, id, body.Emoji)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrNotParticipant) {
			writeErr(w, err)
		} else {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	utils.JSONWrite(w, http.StatusOK, msg)
}

func removeReaction(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]
	msg, err := svc.RemoveReaction(r.Context(), uid, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, msg)
}

func editMessage(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := svc.EditMessage(r.Context(), uid, id, body.Content)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrNotSender) {
			writeErr(w, err)
		} else {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	utils.JSONWrite(w, http.StatusOK, msg)
}

func deleteMessage(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if err := svc.DeleteMessage(r.Context(), uid, id); err != nil {
		writeErr(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"deleted": id})
}

func userStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	utils.JSONWrite(w, http.StatusOK, svc.UserStatus(id))
}
