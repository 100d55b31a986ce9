package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"

	midsec "ProjChat/middleware/security"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
)

// HandleTranscript serves the one-shot historical fetch a conversation
// client performs before subscribing to live events.
// GET /transcript?project=P&kind=provider&id=42  (counterpart; self from token)
func (s *Server) HandleTranscript(c *gin.Context) {
	self, ok := identityFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": errs.CodeAuthRequired, "msg": "token required"})
		return
	}
	counterpart := model.Identity{
		Kind: model.IdentityKind(c.Query("kind")),
		ID:   c.Query("id"),
	}
	conv := model.ConversationContext{ProjectID: c.Query("project"), A: self, B: counterpart}
	if err := conv.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeBadContext, "msg": err.Error()})
		return
	}

	msgs, err := s.store.FetchTranscript(c.Request.Context(), conv)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeStoreUnavailable, "msg": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"context_key": conv.Key(), "messages": msgs})
}

// HandleStatus is the REST flavor of the out-of-band presence check.
// GET /status?kind=client&id=7
func (s *Server) HandleStatus(c *gin.Context) {
	if _, ok := identityFromCtx(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": errs.CodeAuthRequired, "msg": "token required"})
		return
	}
	ident := model.Identity{
		Kind: model.IdentityKind(c.Query("kind")),
		ID:   c.Query("id"),
	}
	if err := ident.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeProtocolMalformed, "msg": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity": ident,
		"status":   s.presence.StatusOf(ident),
	})
}

func identityFromCtx(c *gin.Context) (model.Identity, bool) {
	key := c.GetString(midsec.CtxIdentityKey)
	if key == "" {
		return model.Identity{}, false
	}
	ident, err := model.ParseIdentityKey(key)
	if err != nil {
		return model.Identity{}, false
	}
	return ident, true
}
