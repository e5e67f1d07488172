package handler

import (
	"chatgogo/messenger/internal/models"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
)

type profileRequest struct {
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl"`
	Departments []string `json:"departments"`
}

// GetParticipant returns a directory entry.
func (h *Handler) GetParticipant(c *gin.Context) {
	p, err := h.Storage.GetParticipant(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if p == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}
	c.JSON(http.StatusOK, p.ToParticipant())
}

// SaveProfile upserts the caller's own directory entry. The role always
// comes from the token.
func (h *Handler) SaveProfile(c *gin.Context) {
	viewer := currentParticipant(c)
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	rec := &models.ParticipantRecord{
		ID:          viewer.ID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Role:        viewer.Role,
		Departments: pq.StringArray(req.Departments),
	}
	if err := h.Storage.SaveParticipant(rec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.ToParticipant())
}
