// Package xbus 提供基于 Redis pub/sub 的缓存失效广播。
//
// 写入方在远端写入成功后调用 Publish，所有其他进程的 Listen 回调
// 收到 cacheKey 后重新读取远端的规范状态。广播是尽力而为的：
// 消息可能丢失或乱序，消费方必须幂等（总是重读而不是应用增量）。
//
// # 线格式
//
//	{"command":"refreshYourLocalCacheForKey","cacheKey":"<key>","processId":"<id>"}
//
// 订阅方忽略无法解析的消息、缺少 cacheKey 的消息，以及 processId 与自身相同的消息。
//
// # 连接
//
// 订阅连接进入 pub/sub 模式后不能执行普通命令，因此 New 需要两个客户端：
// pub 用于发布，sub 专用于订阅。
package xbus
