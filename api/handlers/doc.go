// Copyright (c) Reclip Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 reclip HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 reclip 所有 HTTP 端点的请求处理逻辑，
包括克隆会话生命周期、进度推送、素材库查询、成本预估、
运行时设置以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22
方法+通配符模式（r.PathValue 取路径参数）。

# 核心类型

  - SessionHandler   — 会话 CRUD、生成/取消、状态轮询、产品图上传、
    websocket 进度推送与成本预估
  - SettingsHandler  — 供应商 key（掩码返回）、提示词模板、key 校验
  - LibraryHandler   — 已归档成功产物查询
  - HealthHandler    — 服务健康检查（/health, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteAnyError 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - websocket 进度流：SessionHandler.HandleProgressWS 按会话事件推送快照
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
