/*
包 cache 管理进程共享的 Redis 连接。

# 概述

Redis 检查点后端与分布式运行租约共用同一个客户端。Manager 负责
连接的建立（启动时 Ping 校验）、后台健康检查与优雅关闭，
并向健康检查端点提供 Ping。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Client/Ping/Stats/Close。
  - Config：地址、密码、连接池大小、TLS 与健康检查间隔，
    可由 config.RedisConfig 通过 ConfigFrom 构造。
  - Stats：连接池统计（命中、未命中、超时、总连接与空闲连接）。
*/
package cache
