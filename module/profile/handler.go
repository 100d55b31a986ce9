package profile

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ProjChat/logger"
	"ProjChat/module/chat/model"
	errs "ProjChat/tools/errs"
	security "ProjChat/tools/security"
)

// Handler exposes the small HTTP surface around identities: token
// minting for dev/testing and directory lookups for conversation
// headers.
type Handler struct {
	JWT      security.Options
	Resolver Resolver
}

type loginReq struct {
	Kind string `json:"kind" binding:"required"`
	ID   string `json:"id" binding:"required"`
}

// HandlerLogin mints a relay token for an identity. In production the
// upstream account service issues tokens with the same claims; this
// endpoint exists so a client can be exercised without that service.
// POST /login {"kind":"client","id":"7"}
func (h *Handler) HandlerLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeProtocolMalformed, "msg": err.Error()})
		return
	}
	ident := model.Identity{Kind: model.IdentityKind(req.Kind), ID: req.ID}
	if err := ident.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeProtocolMalformed, "msg": err.Error()})
		return
	}

	token, _, expireAt, err := security.Generate(h.JWT, ident.Key(), []string{"chat"})
	if err != nil {
		logger.Errorf("[profile] token mint failed identity=%s err=%v", ident.Key(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": errs.CodeAuthFailed, "msg": "token mint failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expire_at": expireAt.Unix(),
		"identity":  ident,
	})
}

// HandlerProfile resolves the directory record for an identity.
// GET /profile?kind=provider&id=42
func (h *Handler) HandlerProfile(c *gin.Context) {
	ident := model.Identity{
		Kind: model.IdentityKind(c.Query("kind")),
		ID:   c.Query("id"),
	}
	if err := ident.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeProtocolMalformed, "msg": err.Error()})
		return
	}
	if h.Resolver == nil {
		c.JSON(http.StatusOK, Placeholder(ident))
		return
	}
	p, err := h.Resolver.Resolve(c.Request.Context(), ident)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeProfileNotFound {
			c.JSON(http.StatusNotFound, gin.H{"code": errs.CodeProfileNotFound, "msg": "profile not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": errs.CodeStoreUnavailable, "msg": "directory unavailable"})
		return
	}
	c.JSON(http.StatusOK, p)
}
