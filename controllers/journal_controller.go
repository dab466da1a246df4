package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wheel-backtester/services"
)

// JournalController serves run journals
type JournalController struct {
	journal *services.RunJournal
}

// NewJournalController creates a new journal controller
func NewJournalController(journal *services.RunJournal) *JournalController {
	return &JournalController{
		journal: journal,
	}
}

// HandleListJournals returns the run IDs that have a journal
// GET /api/v1/journals
func (jc *JournalController) HandleListJournals(c *gin.Context) {
	ids, err := jc.journal.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"count": len(ids),
	})
}

// HandleGetJournal returns the journal of one run
// GET /api/v1/journals/:id
func (jc *JournalController) HandleGetJournal(c *gin.Context) {
	entry, err := jc.journal.Get(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, entry)
}
