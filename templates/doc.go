// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package templates 提供命名的、参数化的工作流模板库。

# 概述

每个模板声明一个参数 schema（类型/必填/默认值/描述）和一个基于
wdl.Builder 的构建函数。Registry 按 id 管理模板，Instantiate 在构建前
校验必填参数并应用默认值，产出的 Definition 与手工构建的完全等价，
没有任何特殊的运行时行为。

# 使用示例

	reg := templates.NewRegistry(templates.Builtins()...)
	def, err := reg.Instantiate("approval_deployment", map[string]any{
		"environment": "production",
	})

内置模板：sequential_pipeline（串行代理流水线）、parallel_review
（并行评审扇出/聚合）、mcp_data_fetch（带重试与降级的外部能力调用）、
approval_deployment（人工审批门控部署）。
*/
package templates
