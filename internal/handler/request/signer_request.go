package request

// ChainURI 路径参数 /:chain
type ChainURI struct {
	Chain string `uri:"chain" binding:"required,oneof=ethereum bitcoin solana"`
}

// AddressQuery 可选的派生路径，留空时使用链的默认路径
type AddressQuery struct {
	Path string `form:"path" binding:"omitempty,derivation_path"`
}

// VerifyMessageRequest 留空时验证最近一次签名
type VerifyMessageRequest struct {
	Signature string `json:"signature" binding:"omitempty,max=4096"`
}
