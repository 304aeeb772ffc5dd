package routes

import (
	"signer-core/internal/handler"

	"github.com/gin-gonic/gin"
)

// RegisterSignerRoutes /api/v1/:chain/...
func RegisterSignerRoutes(rg *gin.RouterGroup, h *handler.SignerHandler) {
	rg.POST("/ethereum/sign-typed-data", h.SignTypedData)

	chain := rg.Group("/:chain")
	{
		chain.POST("/connect", h.Connect)
		chain.POST("/disconnect", h.Disconnect)
		chain.GET("/state", h.State)
		chain.GET("/address", h.Address)
		chain.POST("/sign-message", h.SignMessage)
		chain.POST("/verify-message", h.VerifyMessage)
		chain.POST("/sign-transaction", h.SignTransaction)
	}
}
