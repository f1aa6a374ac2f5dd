package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Sage engine errors (service 20).
var (
	// ErrInvalidQuery 请求缺少必填字段
	ErrInvalidQuery = Register(New(MakeCode(ServiceSage, CategoryRequest, 1),
		http.StatusBadRequest, codes.InvalidArgument, "Request must include 'query' and 'user_id'", "请求必须包含 query 和 user_id"))

	// ErrTopicNotFound 主题不存在
	ErrTopicNotFound = Register(New(MakeCode(ServiceSage, CategoryResource, 1),
		http.StatusNotFound, codes.NotFound, "Topic not found", "主题不存在"))

	// ErrIndexBuild 索引构建失败
	ErrIndexBuild = Register(New(MakeCode(ServiceSage, CategoryInternal, 1),
		http.StatusInternalServerError, codes.Internal, "Index build failed", "索引构建失败"))

	// ErrProfileStore 用户画像读写失败
	ErrProfileStore = Register(New(MakeCode(ServiceSage, CategoryStorage, 1),
		http.StatusInternalServerError, codes.Internal, "Profile store failure", "用户画像存储失败"))

	// ErrEventLog 日志写入失败
	ErrEventLog = Register(New(MakeCode(ServiceSage, CategoryStorage, 2),
		http.StatusInternalServerError, codes.Internal, "Event log failure", "日志写入失败"))

	// ErrSageNotReady 索引仍在初始化，客户端可稍后重试
	ErrSageNotReady = Register(New(MakeCode(ServiceSage, CategoryNetwork, 1),
		http.StatusServiceUnavailable, codes.Unavailable,
		"RAG pipeline is still initializing. Please try again shortly.", "检索服务初始化中，请稍后重试"))
)

// Model provider errors (service 90).
var (
	// ErrUpstreamEmbedding 向量化调用失败
	ErrUpstreamEmbedding = Register(New(MakeCode(ServiceModel, CategoryNetwork, 1),
		http.StatusBadGateway, codes.Unavailable, "Embedding provider failure", "向量化服务调用失败"))

	// ErrUpstreamGeneration 生成调用失败
	ErrUpstreamGeneration = Register(New(MakeCode(ServiceModel, CategoryNetwork, 2),
		http.StatusBadGateway, codes.Unavailable, "Generation provider failure", "生成服务调用失败"))
)
