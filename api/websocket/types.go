package websocket

type ConnectParams struct {
	DocumentID string `form:"document_id" binding:"required"`
	Token      string `form:"token" binding:"required"` // bearer token issued by the platform
}
