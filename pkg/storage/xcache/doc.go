// Package xcache 提供跨进程一致的两级读穿缓存：进程内本地缓存（L1）加共享 Redis（L2）。
//
// # 设计理念
//
// 多个独立进程共享同一个 Redis，没有中心协调者。xcache 只依赖三样东西完成协调：
//   - Redis 的原子"不存在则写入"，决定谁的值成为权威值
//   - 租约锁（xdlock），保证同一时刻只有一个进程在计算同一个 key
//   - 尽力而为的发布订阅（xbus），通知其他进程重读远端
//
// 远端是跨进程的事实来源：本地与远端不一致时以远端为准。
// 每个失效信号都触发一次幂等的远端重读，而不是应用增量，
// 因此消息丢失或乱序只会延长陈旧窗口，不会导致数据错乱。
//
// # 核心组件
//
//   - LocalStore：分片的 TTL map，每个条目一个淘汰定时器，读写都复制字节
//   - RemoteStore：Fetch / FetchTTL / Save，远端故障被吸收为未命中或写入失败，可选熔断
//   - Guard：基于 singleflight 的进程内调用合并，共享结果按调用方复制
//   - Client：进程级句柄，Init 绑定两个 redis 连接，Quit 释放
//
// # 两个操作
//
// GetOrInit 是惰性读取：本地、远端依次查找，都缺失时以无限重试策略等锁，
// 持锁后由唯一的进程计算并以"不存在则写入"写回。写入冲突时采用远端已有的值。
// 锁后端不可达时降级为直接计算，结果只写入本地，producer 可通过
// RemoteUnavailable 感知降级。
//
// AttemptRegeneration 是强制刷新：只尝试一次加锁，失败立即返回 ErrLockFailed；
// 成功时覆盖写入远端、更新本地并广播失效消息。
//
// # TTL
//
// 默认 TTL 为 Forever（本地不设定时器，远端不设过期）。
// 远端 TTL 以整秒表示，不足一秒向上取整；从远端读取时本地沿用远端剩余 TTL。
//
// # 值的格式
//
// 值以 JSON 字节在两级之间传递。nil、空白和 JSON null 表示"未缓存"，不能被写入。
// GetOrInitValue / AttemptRegenerationValue 在字节之上提供类型化接口，
// 每次调用都解码出独立的值。
//
// # 租约与覆盖竞争
//
// 锁不带 fencing token：计算耗时超过租约且续期失败时，其他进程可能拿到同一把锁，
// 两个进程都可能写入远端。xcache 接受这一竞争：写入成功但估算租约已过期时，
// 写入方广播失效消息，让其他进程重读最终值。
package xcache
