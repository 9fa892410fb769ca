// Copyright (c) Pipeflow Authors.
// Licensed under the MIT License.

/*
Package types 提供 Pipeflow 对外 API 共享的错误类型。

# 概述

types 不依赖任何内部包。api/handlers 与 cmd/pipeflow 的中间件通过
这里的 Error / ErrorCode 生成统一的错误响应信封，客户端据 code 字段
区分失败原因。

# 错误码

  - 请求类：INVALID_REQUEST、UNAUTHORIZED、FORBIDDEN、NOT_FOUND、CONFLICT、RATE_LIMITED
  - 运行类：GRAPH_NOT_FOUND、RUN_NOT_FOUND、RUN_BUSY、RUN_NOT_PAUSED、RUN_FINISHED
  - 基础设施：STORAGE_ERROR、TIMEOUT、INTERNAL_ERROR、SERVICE_UNAVAILABLE

# 使用方式

	err := types.NewError(types.ErrRunNotPaused, "run is not paused").
		WithHTTPStatus(http.StatusConflict)
*/
package types
