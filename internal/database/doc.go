/*
包 database 负责打开 GORM 数据库连接并管理连接池，供 SQL 检查点存储与
迁移命令使用。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、sqlite），
PoolManager 在此基础上配置连接池并在后台定时探活，
同时把连接数上报给 StatsObserver（通常是 metrics.Collector）。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置，可由 PoolConfigFrom 从全局配置派生。
  - ErrPoolClosed：Close 之后 Ping 返回的哨兵错误。
*/
package database
