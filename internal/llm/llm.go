package llm

import "context"

// Request 描述发送给大模型的一次生成请求。
type Request struct {
	System string
	Prompt string
}

// Response 是大模型生成的原始文本输出。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
