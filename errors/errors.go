package errors

import "fmt"

var (
	ErrNotConnected        = fmt.Errorf("not connected to the hub")
	ErrNoCredential        = fmt.Errorf("no credential available")
	ErrTransportsExhausted = fmt.Errorf("all transports exhausted")
	ErrBrokerClosed        = fmt.Errorf("subscription broker is closed")
	ErrEmptyMessage        = fmt.Errorf("message body is empty")
	ErrTransportClosed     = fmt.Errorf("transport closed")
)
