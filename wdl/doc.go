// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package wdl 提供工作流定义语言（WDL）的数据模型与构建工具。

# 概述

wdl 是 FlowForge 最底层的领域包：定义工作流图的节点、边、条件、变量与
重试配置，并提供三种等价的构建途径——Fluent Builder、YAML/JSON 文档
解析器与导出器。三者围绕同一个 Definition 结构，满足往返等价契约：
parse(export(d)) 与 d 的节点集、边集、变量集一致。

# 核心类型

  - Definition   — 静态不可变的工作流图（节点 + 边 + 默认变量）
  - Node         — 带判别标签的节点联合体（九种变体，共享公共字段）
  - Edge         — 有向连接，可携带条件门控与权重
  - Condition    — 变量上下文上的纯谓词（11 种比较算子）
  - RetryConfig  — 节点重试策略（none/immediate/exponential/linear/custom）
  - Variable     — 带类型标签与敏感标记的工作流变量
  - Builder      — Fluent 构建 API，Build() 原子化校验
  - Document     — WDL 文档结构（YAML 与 JSON 共用同一 schema）

# 校验

Validate(def) 返回所有结构问题：START/END 存在性、边端点与 depends_on
解析、变体内部引用，以及仅允许存在于 Loop body 内部的环。
*/
package wdl
