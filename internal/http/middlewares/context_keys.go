package middlewares

const (
	CtxUserID    = "auth.userID"
	CtxEmail     = "auth.email"
	CtxRole      = "auth.role"
	CtxRequestID = "request_id"
)
