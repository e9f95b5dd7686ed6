package hub

import "errors"

// 错误定义
var (
	// 房间相关错误
	ErrRoomNotFound = errors.New("hub: room not found")
	ErrRoomExists   = errors.New("hub: room already exists")
	ErrRoomFull     = errors.New("hub: room is full")
	ErrRoomClosed   = errors.New("hub: room is closed")

	// 会话相关错误
	ErrSessionClosed  = errors.New("hub: session closed")
	ErrSendQueueFull  = errors.New("hub: send queue full")
	ErrAlreadyJoined  = errors.New("hub: session already joined a room")
	ErrNotAuthorized  = errors.New("hub: operation not allowed for role")
	ErrInvalidRole    = errors.New("hub: invalid role")
	ErrInvalidMessage = errors.New("hub: invalid message format")
	ErrUnknownType    = errors.New("hub: unknown message type")
	ErrCodeGeneration = errors.New("hub: failed to generate unique room code")
	ErrRegistryClosed = errors.New("hub: registry is closed")
)
