// Package distributed 提供分布式协调相关的子包。
//
// 子包列表：
//   - xdlock: 基于 Redis 的租约锁，支持无限重试与单次尝试两种获取策略，以及租约续期
//
// 设计原则：
//   - 锁不带 fencing token，调用方必须容忍租约过期后的覆盖竞争
//   - 区分锁竞争与后端故障，使调用方可以对故障降级
package distributed
