// Package config 加载 xtierctl 的配置文件。
//
// 配置文件为 YAML 或 JSON，按扩展名识别（.yaml/.yml/.json），分为三段：
//
//	redis:
//	  addr: 127.0.0.1:6379
//	  dial_timeout: 2s
//	cache:
//	  channel: cacheChannel
//	  lock_ttl: 10m
//	  renew_interval: 30s
//	log:
//	  level: info
//	  format: json
//	  file: /var/log/xtierctl.log
//
// 缺省和零值字段使用默认值，见 [Default]。时长字段接受 "10s" 形式的字符串。
//
// [Watch] 监视配置文件，变更后重新加载并把新配置交给回调，
// 命令行工具用它在运行中调整日志级别。
package config
