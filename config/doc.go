// Copyright 2026 GatewayFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config 提供 GatewayFlow 的配置管理功能。

# 概述

config 包负责应用配置的完整生命周期管理，包括多源加载、
运行时热重载与变更审计。配置按
"默认值 -> YAML 文件 -> 环境变量" 的优先级合并。

# 核心结构

  - Config: 顶层配置聚合，涵盖 Server、Routing、Redis、
    Database、Quota、Upstream、Log、Telemetry、Auth
  - Loader: 配置加载器，支持 Builder 模式链式设置
    文件路径、环境变量前缀与自定义验证器
  - HotReloadManager: 热重载管理器，由 gatewayflow.New
    构建并监听配置文件，把重载后的 RoutingConfig/QuotaConfig
    原子地发布给请求路径读取
  - FileWatcher: 文件变更监听器，基于轮询 + 去抖机制
    触发配置重载

# 主要能力

  - 多源加载: YAML 文件、环境变量（GATEWAYFLOW_ 前缀）、默认值
  - 热重载: 文件监听自动重载，支持字段级更新与回调通知
  - 安全治理: SanitizedConfig 输出敏感字段已脱敏的配置视图
  - 变更审计: 变更日志仅保留最近 1000 条（GetChangeLog 读取），不记录版本号，也不支持回滚
  - 配置验证: 内置 Config.Validate 校验 + Loader.WithValidator 自定义钩子

# 使用示例

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("GATEWAYFLOW").
		Load()
*/
package config
