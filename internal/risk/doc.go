// Package risk 实现交易签名前的多级校验与合约地址的风险分析。
// 两条管线共享同一套等级与结论模型：结构校验、黑白名单、静态
// 模拟、字节码与源代码扫描，最后由大模型补充评估。大模型或
// 外部服务不可用时按保守值降级，不中断主流程。
package risk
