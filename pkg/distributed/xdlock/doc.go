// Package xdlock 提供基于 Redis (redsync) 的租约锁，服务于缓存回源互斥。
//
// # 核心概念
//
//   - Factory: 锁工厂，管理 redsync 实例，创建锁
//   - LockHandle: 一次成功的锁获取，提供 Unlock/Extend
//   - Policy: 获取策略，RetryForever（排队等待）或 TryOnce（单次尝试）
//   - LeaseRenewer: 受保护区段执行期间周期性续期租约的后台任务
//
// # 获取策略
//
// RetryForever 在锁被占用时按固定延迟加随机抖动无限重试，相当于一个准入队列：
// 只有后端不可达（真正的故障）或 ctx 取消时才返回错误，竞争不会导致失败。
//
// TryOnce 只尝试一次，锁被占用返回 ErrLockHeld，后端故障原样返回。
//
//	handle, err := factory.Acquire(ctx, "report", xdlock.TryOnce())
//	if errors.Is(err, xdlock.ErrLockHeld) {
//	    return nil // 其他进程正在处理
//	}
//
// # 租约续期
//
// 锁没有 fencing token，租约可能在持有期间静默过期。StartRenewer 以固定节奏调用
// Extend，并维护估算的租约截止时间。续期失败只记录日志，由下一个 tick 重试。
// 调用方在每个退出路径上都必须调用 Stop。
//
//	renewer := xdlock.StartRenewer(handle, 30*time.Second, 10*time.Minute)
//	defer renewer.Stop()
//
// redsync 的 Extend 会把租约重置为完整的 Expiry，而不是增加一个增量，
// 因此估算截止时间在每次成功续期后等于 now + ttl。
package xdlock
