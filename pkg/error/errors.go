package error

import "net/http"

// GenericError is what the recovery middleware understands: anything that can
// describe itself with an HTTP status and a machine-readable code.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type NotFoundError string

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND_ERROR"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

type AlreadyRunningError string

func (err AlreadyRunningError) Error() string {
	return string(err)
}

func (err AlreadyRunningError) ErrCode() string {
	return "ALREADY_RUNNING"
}

func (err AlreadyRunningError) StatusCode() int {
	return http.StatusConflict
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type NotAuthenticatedError string

func (err NotAuthenticatedError) Error() string {
	return string(err)
}

func (err NotAuthenticatedError) ErrCode() string {
	return "SESSION_NOT_AUTHENTICATED"
}

func (err NotAuthenticatedError) StatusCode() int {
	return http.StatusConflict
}

type UpstreamError string

func (err UpstreamError) Error() string {
	return string(err)
}

func (err UpstreamError) ErrCode() string {
	return "UPSTREAM_ERROR"
}

func (err UpstreamError) StatusCode() int {
	return http.StatusBadGateway
}
