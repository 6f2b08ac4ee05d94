// Package grpc exposes the process scheduler over gRPC.
//
// The service is the control surface of a running kernel: it lists and
// inspects process records, kills processes and retunes scheduling levels
// and weights. All argument validation happens in this file before any
// kernel code runs, so server methods contain only the kernel call.
package grpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procsched/coreengine/typeutil"
)

// =============================================================================
// ARGUMENT VALIDATION
// =============================================================================

// validatePID checks that a pid argument is present and positive.
func validatePID(req *wrapperspb.Int64Value) (int, error) {
	if req == nil {
		return 0, InvalidArgument("pid")
	}
	if req.GetValue() <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "pid must be positive: %d", req.GetValue())
	}
	return int(req.GetValue()), nil
}

// requiredInt reads an integer field from a Struct request.
func requiredInt(req *structpb.Struct, field string) (int, error) {
	if req == nil {
		return 0, InvalidArgument(field)
	}
	v, ok := req.GetFields()[field]
	if !ok {
		return 0, InvalidArgument(field)
	}
	n, ok := typeutil.SafeInt(v.AsInterface())
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", field)
	}
	return n, nil
}

// validatePIDField reads and checks the "pid" field of a Struct request.
func validatePIDField(req *structpb.Struct) (int, error) {
	pid, err := requiredInt(req, "pid")
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, status.Errorf(codes.InvalidArgument, "pid must be positive: %d", pid)
	}
	return pid, nil
}

// =============================================================================
// ERROR CODES
// =============================================================================

// InvalidArgument returns a gRPC InvalidArgument error (analogous to EINVAL).
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// Internal wraps an internal error with context (analogous to EIO).
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// kernelStatus maps a kernel error onto a gRPC status.
func kernelStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch kernel.KindOf(err) {
	case kernel.KindNotFound:
		code = codes.NotFound
	case kernel.KindInvalidArgument:
		code = codes.InvalidArgument
	case kernel.KindResourceExhausted:
		code = codes.ResourceExhausted
	case kernel.KindNoChildren, kernel.KindKilled:
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
