// Copyright (c) Reclip Authors.
// Licensed under the MIT License.

/*
Package types 提供 reclip 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 engine、provider、planner、
store、api 等上层模块提供统一的类型契约。会话数据模型、状态枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Session / Variant / Clip / Scene — 克隆会话数据模型
  - SessionStatus / VariantStatus / ClipStatus — 生命周期状态枚举
  - ClipPlan          — 策略规划器产出的单个生成计划
  - ProviderID / ModelID / Strategy — 封闭集合的标识常量
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
  - 常用错误构造：NewDownloadError / NewProviderRejectedError / NewSessionTimeoutError
  - 状态查询：SessionStatus.Terminal / ClipStatus.Terminal / Variant.Aggregate
*/
package types
