package ws

const (
	// client - server
	MsgPing = "ping"

	// server - client
	MsgAccount = "account"
	MsgError   = "error"
	MsgPong    = "pong"
)
