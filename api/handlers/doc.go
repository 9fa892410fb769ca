// Copyright (c) Pipeflow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Pipeflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了运行管理、事件流、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，并使用 Go 1.22 的路由模式注册到 ServeMux。

# 核心类型

  - RunHandler：启动、查询、恢复、中止运行，列出已注册的图
  - EventsHandler：通过 WebSocket 推送运行事件
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /readyz）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、run_id、retryable
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，透传 Hijack
  - HealthCheck：可插拔健康检查接口（FuncCheck 包装任意探测函数）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 执行器与检查点错误 → ErrorCode → HTTP 状态码
  - 异步运行：默认 202 返回 run_id，wait=true 时同步等待结果
*/
package handlers
