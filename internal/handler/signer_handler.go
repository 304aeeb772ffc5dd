package handler

import (
	"errors"
	"io"

	"signer-core/internal/handler/request"
	"signer-core/internal/handler/response"
	"signer-core/internal/service"
	"signer-core/pkg/errno"
	"signer-core/pkg/validator"

	"github.com/gin-gonic/gin"
)

// SignerHandler 每条链一组设备操作接口
type SignerHandler struct {
	registry *service.Registry
}

func NewSignerHandler(registry *service.Registry) *SignerHandler {
	return &SignerHandler{registry: registry}
}

// Connect POST /api/v1/:chain/connect
func (h *SignerHandler) Connect(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	st, err := w.Connect(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

// Disconnect POST /api/v1/:chain/disconnect
func (h *SignerHandler) Disconnect(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	response.Success(c, w.Disconnect(c.Request.Context()))
}

// State GET /api/v1/:chain/state
func (h *SignerHandler) State(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	response.Success(c, w.State())
}

// Address GET /api/v1/:chain/address?path=
func (h *SignerHandler) Address(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	var q request.AddressQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	var (
		addr string
		err  error
	)
	if q.Path == "" {
		addr, err = w.Address(c.Request.Context())
	} else {
		addr, err = w.AddressAt(c.Request.Context(), q.Path)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"chain": w.Chain(), "address": addr})
}

// SignMessage POST /api/v1/:chain/sign-message
func (h *SignerHandler) SignMessage(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	st, err := w.SignMessage(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

// VerifyMessage POST /api/v1/:chain/verify-message
func (h *SignerHandler) VerifyMessage(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	var req request.VerifyMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, errno.ErrBind.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	response.Success(c, gin.H{"valid": w.Verify(c.Request.Context(), req.Signature)})
}

// SignTypedData POST /api/v1/ethereum/sign-typed-data
func (h *SignerHandler) SignTypedData(c *gin.Context) {
	w, err := h.registry.Get(service.ChainEthereum)
	if err != nil {
		response.Error(c, err)
		return
	}
	st, err := w.SignTypedData(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

// SignTransaction POST /api/v1/:chain/sign-transaction
func (h *SignerHandler) SignTransaction(c *gin.Context) {
	w, ok := h.workbench(c)
	if !ok {
		return
	}
	st, err := w.SignTransaction(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

func (h *SignerHandler) workbench(c *gin.Context) (*service.Workbench, bool) {
	var uri request.ChainURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, errno.ErrUnsupportedChain.WithMessage(c.Param("chain")))
		return nil, false
	}
	w, err := h.registry.Get(uri.Chain)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return w, true
}
