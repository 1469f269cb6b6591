package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/task/dto"
)

func (h *Handlers) askQuestion(c *gin.Context) {
	var body dto.AskQuestionRequest
	if !h.bind(c, &body) {
		return
	}
	question, err := h.tasks.AskQuestion(c.Request.Context(), c.Param("id"), dto.ToAskQuestion(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

func (h *Handlers) listQuestions(c *gin.Context) {
	questions, err := h.tasks.ListQuestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.QuestionListResponse{Questions: questions, Total: len(questions)})
}

func (h *Handlers) getQuestion(c *gin.Context) {
	question, err := h.tasks.GetQuestion(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

func (h *Handlers) listReplies(c *gin.Context) {
	replies, err := h.tasks.ListReplies(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReplyListResponse{Replies: replies, Total: len(replies)})
}

func (h *Handlers) replyQuestion(c *gin.Context) {
	var body dto.ReplyRequest
	if !h.bind(c, &body) {
		return
	}
	reply, err := h.tasks.ReplyQuestion(c.Request.Context(), c.Param("id"), body.Body, body.Resolving, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reply)
}

func (h *Handlers) resolveQuestion(c *gin.Context) {
	var body dto.ResolveQuestionRequest
	if !h.bind(c, &body) {
		return
	}
	question, err := h.tasks.ResolveQuestion(c.Request.Context(), c.Param("id"), body.Resolution, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

func (h *Handlers) dismissQuestion(c *gin.Context) {
	var body dto.DismissQuestionRequest
	if !h.bind(c, &body) {
		return
	}
	question, err := h.tasks.DismissQuestion(c.Request.Context(), c.Param("id"), body.Reason, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

func (h *Handlers) assignQuestion(c *gin.Context) {
	var body dto.AssignQuestionRequest
	if !h.bind(c, &body) {
		return
	}
	if body.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	question, err := h.tasks.AssignQuestion(c.Request.Context(), c.Param("id"), body.AgentID, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, question)
}
