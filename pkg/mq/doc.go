// Package mq 提供消息广播相关的子包。
//
// 子包列表：
//   - xbus: 基于 Redis pub/sub 的缓存失效广播
//
// 设计原则：
//   - 投递语义为至多一次、无序，消费方动作必须幂等
//   - 内置可观测性（指标、日志）
package mq
