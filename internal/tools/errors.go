package tools

import "errors"

var (
	ErrServerNotFound = errors.New("tool server not found")
	ErrInvalidName    = errors.New("qualified tool name must be server.tool")
)
