package handler

import (
	"chatgogo/messenger/internal/events"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/roomid"
	"chatgogo/messenger/internal/thread"
	"chatgogo/messenger/internal/transport"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var (
	errNotMember  = errors.New("not a participant of this conversation")
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("attachment too large")
)

type editRequest struct {
	Content string `json:"content"`
}

// GetRoomHistory returns a direct room's messages as the caller sees them.
func (h *Handler) GetRoomHistory(c *gin.Context) {
	viewer := currentParticipant(c)
	key := roomid.Key(c.Param("key"))
	if !key.Has(viewer.ID) {
		respondError(c, errNotMember)
		return
	}
	msgs, err := h.Storage.GetHistory(key.String(), viewer.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transport.HistoryResponse{Messages: msgs})
}

// GetThreadHistory returns every message of a discussion thread.
func (h *Handler) GetThreadHistory(c *gin.Context) {
	msgs, err := h.Storage.GetThreadMessages(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transport.HistoryResponse{Messages: msgs})
}

// CreateMessage persists a multipart submission and pushes it to the
// conversation's subscribers.
func (h *Handler) CreateMessage(c *gin.Context) {
	viewer := currentParticipant(c)
	if c.Request.ContentLength > h.MaxUploadSize+(1<<20) {
		respondError(c, errTooLarge)
		return
	}

	senderID := c.PostForm("senderId")
	if senderID == "" {
		senderID = viewer.ID
	}
	if senderID != viewer.ID {
		respondError(c, fmt.Errorf("%w: sender does not match token", errNotMember))
		return
	}

	rec := models.MessageRecord{
		SenderID:  senderID,
		ThreadID:  strings.TrimSpace(c.PostForm("threadId")),
		Content:   c.PostForm("content"),
		CreatedAt: h.now().UTC(),
	}
	ref, err := h.conversationFor(c, &rec)
	if err != nil {
		respondError(c, err)
		return
	}

	att, err := h.saveUpload(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if strings.TrimSpace(rec.Content) == "" && att == nil {
		respondError(c, fmt.Errorf("%w: empty message", errBadRequest))
		return
	}
	rec.Kind = string(models.KindFor(att))
	if att != nil {
		rec.FileName, rec.FileURL, rec.MimeType, rec.Size = att.FileName, att.FileURL, att.MimeType, att.Size
	}

	if err := h.Storage.SaveMessage(&rec); err != nil {
		respondError(c, err)
		return
	}
	msg := rec.ToMessage(false)
	if err := h.Hub.Publish(ref.Topic(), msg); err != nil {
		log.Printf("WARNING: Failed to publish message %d to %s: %v", msg.ID, ref.Topic(), err)
	}
	h.emit(c, events.MessageCreated, msg)
	c.JSON(http.StatusCreated, msg)
}

// conversationFor resolves the conversation of a new message and checks
// the caller may post to it.
func (h *Handler) conversationFor(c *gin.Context, rec *models.MessageRecord) (transport.ConversationRef, error) {
	declared := strings.TrimSpace(c.PostForm("roomOrThreadId"))
	if rec.ThreadID != "" {
		if declared != "" && declared != rec.ThreadID {
			return transport.ConversationRef{}, fmt.Errorf("%w: roomOrThreadId does not match threadId", errBadRequest)
		}
		rec.ConversationID = rec.ThreadID
		return transport.ConversationRef{Mode: transport.ModeThread, ID: rec.ThreadID}, nil
	}

	rec.ReceiverID = strings.TrimSpace(c.PostForm("receiverId"))
	key, err := roomid.DeriveKey(rec.SenderID, rec.ReceiverID)
	if err != nil {
		return transport.ConversationRef{}, err
	}
	if declared != "" && declared != key.String() {
		return transport.ConversationRef{}, fmt.Errorf("%w: roomOrThreadId does not match participants", errBadRequest)
	}
	rec.ConversationID = key.String()
	return transport.ConversationRef{Mode: transport.ModeDirect, ID: key.String()}, nil
}

// saveUpload stores the optional "file" part and returns its metadata.
func (h *Handler) saveUpload(c *gin.Context) (*models.Attachment, error) {
	fh, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if fh.Size == 0 {
		return nil, fmt.Errorf("%w: empty file", errBadRequest)
	}
	if fh.Size > h.MaxUploadSize {
		return nil, errTooLarge
	}
	if h.FilesDir == "" {
		return nil, fmt.Errorf("%w: uploads are disabled", errBadRequest)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(fh.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "file"
	}
	dir := uuid.NewString()
	if err := os.MkdirAll(filepath.Join(h.FilesDir, dir), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(h.FilesDir, dir, name), data, 0o644); err != nil {
		return nil, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}
	return &models.Attachment{
		FileName: name,
		FileURL:  path.Join(filesRoute, dir, name),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

// EditMessage replaces the content of a message. Thread messages follow
// the thread policy, direct messages may only be edited by their author.
func (h *Handler) EditMessage(c *gin.Context) {
	viewer := currentParticipant(c)
	rec, ok := h.loadMessage(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		respondError(c, fmt.Errorf("%w: content is required", errBadRequest))
		return
	}

	if rec.ThreadID != "" {
		view, err := h.threadView(rec.ThreadID)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := h.Policy.CheckEdit(view, viewer.ID, rec.ID); err != nil {
			respondError(c, err)
			return
		}
	} else if rec.SenderID != viewer.ID {
		respondError(c, thread.ErrNotAuthor)
		return
	}

	updated, err := h.Storage.UpdateContent(rec.ID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	msg := updated.ToMessage(false)
	h.emit(c, events.MessageEdited, msg)
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage hard-deletes a thread message, or hides a direct message
// for the caller only.
func (h *Handler) DeleteMessage(c *gin.Context) {
	viewer := currentParticipant(c)
	rec, ok := h.loadMessage(c)
	if !ok {
		return
	}

	if rec.ThreadID != "" {
		view, err := h.threadView(rec.ThreadID)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := h.Policy.CheckDelete(view, viewer, rec.ID); err != nil {
			respondError(c, err)
			return
		}
		if err := h.Storage.DeleteMessage(rec.ID); err != nil {
			respondError(c, err)
			return
		}
		h.emit(c, events.MessageDeleted, rec.ToMessage(false))
		c.Status(http.StatusNoContent)
		return
	}

	if !roomid.Key(rec.ConversationID).Has(viewer.ID) {
		respondError(c, errNotMember)
		return
	}
	if err := h.Storage.HideMessage(rec.ID, viewer.ID); err != nil {
		respondError(c, err)
		return
	}
	h.emit(c, events.MessageHidden, rec.ToMessage(true))
	c.Status(http.StatusNoContent)
}

// MarkBestReply flags a reply as the thread's best reply.
func (h *Handler) MarkBestReply(c *gin.Context) {
	h.setBestReply(c, true)
}

// UnmarkBestReply clears the best-reply flag.
func (h *Handler) UnmarkBestReply(c *gin.Context) {
	h.setBestReply(c, false)
}

func (h *Handler) setBestReply(c *gin.Context, best bool) {
	rec, ok := h.loadMessage(c)
	if !ok {
		return
	}
	if rec.ThreadID == "" {
		respondError(c, fmt.Errorf("%w: not a thread message", errBadRequest))
		return
	}
	view, err := h.threadView(rec.ThreadID)
	if err != nil {
		respondError(c, err)
		return
	}
	if best {
		err = h.Policy.CheckMarkBest(view, rec.ID)
	} else {
		err = h.Policy.CheckUnmarkBest(view, rec.ID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.Storage.SetBestReply(rec.ID, best)
	if err != nil {
		respondError(c, err)
		return
	}
	msg := updated.ToMessage(false)
	if best {
		h.emit(c, events.BestReplyMarked, msg)
	} else {
		h.emit(c, events.BestReplyUnmarked, msg)
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) loadMessage(c *gin.Context) (*models.MessageRecord, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, fmt.Errorf("%w: invalid message id", errBadRequest))
		return nil, false
	}
	rec, err := h.Storage.FindMessage(id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return rec, true
}

func (h *Handler) threadView(threadID string) (thread.View, error) {
	msgs, err := h.Storage.GetThreadMessages(threadID)
	if err != nil {
		return thread.View{}, err
	}
	return thread.NewView(threadID, msgs), nil
}
