// Package config 提供 reclip 的配置管理功能。
//
// 配置从默认值、YAML 文件和 RECLIP_* 环境变量按优先级合并。
// 运行期可变的内容（供应商密钥、提示词模板）不在此处，
// 由 settings 包的 Redis 存储承载。
package config
