package checkersdto

// ClientError is a failure reported back to a single connection.
type ClientError struct {
	Code    string
	Message string
}

func (e ClientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "checkers server error"
}

// Payload renders the error for the wire.
func (e ClientError) Payload() ErrorMessage {
	return ErrorMessage{Code: e.Code, Message: e.Error()}
}
