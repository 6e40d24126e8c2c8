package view

// Response is the envelope for every API reply.
type Response[T any] struct {
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// MessageResponse is a plain acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse documents the error shape for API docs.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CreateResponse wraps handler output in the common envelope. The request
// argument is accepted for parity with error logging call sites and is not
// echoed back.
func CreateResponse[T any](data T, err error, request any, message string) Response[T] {
	resp := Response[T]{
		Data:    data,
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
