// Copyright (c) Pipeflow Authors.
// Licensed under the MIT License.

/*
Package main 提供 Pipeflow 服务端程序入口。

# 概述

cmd/pipeflow 是工作流图执行器的可执行入口，提供 HTTP API 服务、
图定义校验、检查点数据库迁移、健康检查和版本查询等子命令。
程序支持 YAML 配置文件与 PIPEFLOW_ 环境变量、结构化日志（zap）、
Prometheus 指标与 OpenTelemetry 追踪。

# 核心类型

  - Server：主服务器，组装存储、执行器、事件总线与 HTTP/Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、validate、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、JWTAuth（HS256）、RateLimiter
  - 检查点后端：memory、file、redis、sql、mongo、object，
    共享后端在 Redis 可用时使用分布式运行租约
  - 优雅关闭：信号 → 关闭 HTTP → 中止后台运行 → 停止事件总线 → 关闭存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
