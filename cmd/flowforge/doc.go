// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package main 提供 FlowForge 服务端程序入口。

# 概述

cmd/flowforge 是 FlowForge 工作流引擎的可执行入口，提供 HTTP API 服务、
本地工作流执行、文档校验、模板浏览、健康检查和版本查询等子命令。
程序支持 YAML 配置文件加载、结构化日志（zap）、Prometheus 指标采集
以及 OpenTelemetry 分布式追踪。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码
  - httpMetrics       — Prometheus HTTP 请求指标（时延/状态/大小）

# 主要能力

  - 子命令：serve（启动服务）、run（本地执行工作流文件）、
    validate（校验工作流文档）、templates（浏览模板库）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、RateLimiter（基于 IP）、APIKeyAuth（X-API-Key / query 参数）、
    OTelTracing、MetricsMiddleware（路径归一化防止标签基数爆炸）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭存储 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
