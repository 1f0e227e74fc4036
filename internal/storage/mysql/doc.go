// Package mysql 提供链上操作历史的持久化仓库。默认的内存实现
// 用本地 JSON 日志模拟，生产环境切换到真实的 MySQL 连接池。
package mysql
