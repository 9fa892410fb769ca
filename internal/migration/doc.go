/*
包 migration 管理检查点表 pipeflow_checkpoints 的 Schema 版本，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌。SQLite 使用纯 Go 的
glebarez 驱动打开，因此迁移不依赖 CGO。迁移只创建默认表名；
使用自定义表名时请改用检查点配置中的 auto_migrate。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Version、
    Status、Info 等操作，取消 ctx 时在当前迁移结束后停止。
  - CLI：终端输出层，Run 按子命令分发，供 pipeflow migrate 使用。
  - BuildDatabaseURL / ParseDatabaseType：按方言构造连接串与解析类型。
*/
package migration
