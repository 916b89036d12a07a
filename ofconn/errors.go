package ofconn

import "errors"

var (
	ErrSwitchClosed         = errors.New("switch connection is closed")
	ErrControllerStopped    = errors.New("controller stopped")
	ErrDisconnectRequested  = errors.New("disconnect requested")
	ErrSwitchTimeout        = errors.New("switch stopped responding")
	ErrIncompatibleVersion  = errors.New("switch does not support a compatible protocol version")
	ErrUnsupportedPlatform  = errors.New("the connection manager requires epoll")
	ErrReplacedByNewSession = errors.New("switch reconnected on a new session")
	ErrMalformedMessage     = errors.New("malformed message")
)
