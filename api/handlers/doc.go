// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 FlowForge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 FlowForge 所有 HTTP 端点的请求处理逻辑，
包括工作流提交、执行状态查询与控制、人工审批、模板实例化、
健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - WorkflowHandler  — 工作流提交与校验（YAML/JSON 文档）
  - ExecutionHandler — 执行状态、日志查询与暂停/恢复/取消控制
  - ApprovalHandler  — 待审批列表与审批决定提交
  - TemplateHandler  — 模板列表与参数化实例化
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（ExecutionStore 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
