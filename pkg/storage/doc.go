// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xcache: 本地缓存加 Redis 的两级读穿缓存，跨进程协调计算与失效
package storage
