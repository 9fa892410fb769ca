/*
包 server 提供 API 服务器生命周期管理，支持非阻塞启动、
可选 TLS 与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
配置了证书与私钥时通过 tlsutil 的加固配置以 HTTPS 提供服务。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Wait 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小、
    优雅关闭超时与 TLS 文件。ConfigFrom 从应用配置构造。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内排空请求；重复调用无副作用。
  - 等待退出：Wait 在 ctx 结束或服务异常时触发关闭。
*/
package server
