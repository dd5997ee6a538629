package grpctransport

import (
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"capitalize/status"
)

// toGRPC converts a handler error into a gRPC status error. The numeric codes are shared.
func toGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codes.Code(status.CodeOf(err)), status.MessageOf(err))
}

// fromGRPC converts an error returned by a gRPC call into a *status.Error.
func fromGRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := grpcstatus.FromError(err)
	if !ok {
		var se *status.Error
		if errors.As(err, &se) {
			return err
		}
		return status.New(status.CodeUnknown, err.Error())
	}
	return status.New(status.Code(st.Code()), st.Message())
}
