// Copyright (c) Reclip Authors.
// Licensed under the MIT License.

/*
Package main 提供 Reclip 服务端程序入口。

# 概述

cmd/reclip 是视频克隆编排服务的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、结构化
日志（zap）、Prometheus 指标采集与 OpenTelemetry 链路追踪。

# 核心类型

  - Server         — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    CORS、RateLimiter（基于 IP）、MetricsMiddleware、OTelTracing
  - 依赖装配：Redis 热状态 + gorm 归档库 + 设置存储 + 会话引擎
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 配置文件变更监听：运行期调整日志级别
  - 优雅关闭：信号监听 → 取消运行中会话 → 关闭 HTTP → 关闭 Metrics
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
