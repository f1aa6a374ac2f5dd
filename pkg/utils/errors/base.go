package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Common errors (service 00).
var (
	OK = Register(New(0, http.StatusOK, codes.OK, "OK", "成功"))

	ErrBadRequest = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1),
		http.StatusBadRequest, codes.InvalidArgument, "Bad request", "请求参数错误"))

	ErrRouteNotFound = Register(New(MakeCode(ServiceCommon, CategoryResource, 1),
		http.StatusNotFound, codes.NotFound, "Route not found", "路由不存在"))

	ErrInternal = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1),
		http.StatusInternalServerError, codes.Internal, "An internal server error occurred", "服务器内部错误"))

	ErrPanic = Register(New(MakeCode(ServiceCommon, CategoryInternal, 2),
		http.StatusInternalServerError, codes.Internal, "An internal server error occurred", "服务器内部错误"))

	ErrRequestTimeout = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 1),
		http.StatusGatewayTimeout, codes.DeadlineExceeded, "Request timeout", "请求超时"))
)
