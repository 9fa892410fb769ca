// Package config 提供 PipeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，
// 覆盖服务器、执行器、检查点存储及各存储后端的连接参数。
package config
