// Package message defines the RPC message structure exchanged between client and server.
//
// RPCMessage is the "envelope" for every RPC call. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP. The envelope payload of a
// Fetch.Capitalize call is a Payload in its protobuf wire form.
package message

import "capitalize/status"

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload contains the encoded request, Code is OK.
//   - On response: Payload contains the encoded reply; Code and Error describe a failure.
type RPCMessage struct {
	ServiceMethod string      // Format: "ServiceName.MethodName", e.g., "Fetch.Capitalize"
	Code          status.Code // status.CodeOK unless the call failed
	Error         string      // Human readable status message, empty on success
	Payload       []byte      // Encoded request or reply
}

// Err returns the status carried by the message, nil when Code is OK.
func (m *RPCMessage) Err() error {
	return status.New(m.Code, m.Error)
}

// ErrorMessage builds a failed response for serviceMethod from err.
func ErrorMessage(serviceMethod string, err error) *RPCMessage {
	code := status.CodeOf(err)
	if code == status.CodeOK {
		code = status.CodeUnknown
	}
	return &RPCMessage{
		ServiceMethod: serviceMethod,
		Code:          code,
		Error:         status.MessageOf(err),
	}
}
