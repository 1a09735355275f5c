/*
Package engine 实现克隆会话的编排核心。

# 概述

engine 驱动一个会话从创建到终态的完整状态机：

	pending → downloading → analyzing → segmenting → generating → completed
	                                                            ↘ failed

generating 阶段为每个请求的 variant 启动一个 VariantRunner，
每个 runner 驱动自己的一组 ClipJob 走完 per-clip 状态机：

	queued → submitted → polling → succeeded / failed

# 并发模型

跨 variant 的 ClipJob 并发受会话级计数信号量约束（MaxConcurrentClips）。
seamless 策略下同一 variant 的 ClipJob 严格按索引顺序执行，
每个后续提交携带前一个 clip 的媒体输出作为延续上下文。
Session / Variant / Clip 记录只由各自的属主组件修改，
单个会话级读写锁用于序列化快照读取与字段更新。

# 进度与成本

progress 随 clip 状态迁移单调递增，外部轮询只读当前聚合值；
成本在 clip 到达 succeeded 时恰好累计一次（供应商报告的实际值优先，
否则回退到价格表）。
*/
package engine
