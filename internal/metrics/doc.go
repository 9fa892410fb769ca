/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、运行、
步骤、检查点、事件总线与数据库连接池。

# 概述

Collector 通过 promauto 注册所有指标并按 namespace 隔离。它直接实现
执行器、步骤执行器、检查点存储与数据库连接池的观察者接口，
因此装配时只需把同一个 Collector 传给各组件。

# 主要能力

  - HTTP 指标：请求总数、耗时与响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 运行指标：启动与结束次数（按最终状态）、运行时长、转移计数。
  - 步骤指标：按 graph_id/step_id 统计执行次数与耗时。
  - 检查点指标：按操作统计次数、错误与耗时。
  - 事件与数据库：事件丢弃计数（CounterFunc）、连接池打开与空闲连接数。
*/
package metrics
