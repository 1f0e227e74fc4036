package prompts

import (
	"fmt"
	"strings"
	"text/template"
)

// render 执行模板并返回结果，模板均为编译期常量，失败视为编程错误。
func render(tpl *template.Template, data any) string {
	var builder strings.Builder
	if err := tpl.Execute(&builder, data); err != nil {
		panic(fmt.Sprintf("渲染提示词模板 %s 失败: %v", tpl.Name(), err))
	}
	return builder.String()
}

var semanticRouterTpl = template.Must(template.New("semantic_router").Parse(`
Classify the following user input into EXACTLY ONE category. Analyze carefully and choose the most specific matching category.

Categories (in order of precedence):
1. GENERATE_ACCOUNT
   - Keywords: create wallet, new account, generate address, make wallet
   - Must express intent to create/generate new account/wallet

2. SEND_TOKEN
   - Keywords: send, transfer, pay, give tokens
   - Must include intent to transfer tokens to another address

3. SWAP_TOKEN
   - Keywords: swap, exchange, trade, convert tokens
   - Must involve exchanging one token type for another

4. ADD_LIQUIDITY
   - Keywords: add liquidity, provide liquidity, liquidity pool
   - Must involve supplying two tokens to a pool

5. CHECK_BALANCE
   - Keywords: balance, how much, check funds, show tokens, wallet value
   - Must express intent to view current account balance

6. ANALYZE_CONTRACT
   - Keywords: analyze contract, is this contract safe, audit address
   - Must reference a specific contract address to inspect

7. CONVERSATIONAL (default)
   - Use when input doesn't clearly match above categories
   - General questions, greetings, or unclear requests

Input: {{.UserInput}}

Instructions:
- Choose ONE category only
- Select most specific matching category
- Default to CONVERSATIONAL if unclear
- Ignore politeness phrases or extra context
- Focus on core intent of request
`))

// SemanticRouter 构造意图分类提示词。
func SemanticRouter(userInput string) string {
	return render(semanticRouterTpl, map[string]string{"UserInput": userInput})
}

var tokenSendTpl = template.Must(template.New("token_send").Parse(`
Extract EXACTLY two pieces of information from the input text for a token send operation:

1. DESTINATION ADDRESS
   - Must start with "0x", exactly 42 characters, hexadecimal only
   - Extract COMPLETE address only, DO NOT modify or truncate
   - FAIL if no valid address found

2. TOKEN AMOUNT
   - Convert written numbers to digits (e.g., "five" -> 5.0)
   - Handle decimals and integers, extract first valid number only
   - FAIL if no valid amount found

Input: {{.UserInput}}

Respond ONLY with JSON in this exact format:
{"to_address": "0x...", "amount": 1.0}

Rules:
- Both fields MUST be present
- Amount MUST be a positive number, not a string
- DO NOT infer missing values
- DO NOT add any text before or after the JSON
`))

// TokenSend 构造转账参数提取提示词。
func TokenSend(userInput string) string {
	return render(tokenSendTpl, map[string]string{"UserInput": userInput})
}

var swapTokenTpl = template.Must(template.New("swap_token").Parse(`
Extract EXACTLY three pieces of information from the input for a token swap operation:

1. SOURCE TOKEN (from_token): a listed token symbol, normalize to uppercase, FAIL if not recognized
2. DESTINATION TOKEN (to_token): same rules, must differ from source token
3. SWAP AMOUNT: positive number, first valid number only, default 1.0 when not stated

Input: {{.UserInput}}

CRITICAL: YOUR RESPONSE MUST BE VALID JSON WITH THE EXACT FORMAT BELOW. DO NOT COMBINE FIELDS OR OMIT ANY FIELDS.

{
  "from_token": "TOKEN1",
  "to_token": "TOKEN2",
  "amount": 1.0
}

RULES FOR JSON GENERATION:
1. MUST include all three fields exactly as shown
2. EACH FIELD MUST BE SEPARATE - NEVER combine fields like "to_token": "USDC,amount:1.0"
3. "amount" MUST be a number, not a string
4. NEVER add extra fields or trailing commas
5. DO NOT add any text before or after the JSON
`))

// SwapToken 构造兑换参数提取提示词。
func SwapToken(userInput string) string {
	return render(swapTokenTpl, map[string]string{"UserInput": userInput})
}

var addLiquidityTpl = template.Must(template.New("add_liquidity").Parse(`
Extract EXACTLY two token-amount pairs from the input for adding liquidity.

Each pair consists of a positive float amount and a listed token symbol.
Recognized formats: "<amount> <token>" (e.g., "100 FLR") or "<token> <amount>".

Input: {{.UserInput}}

Response format (token_a and token_b sorted alphabetically):
{
  "token_a": "<UPPERCASE_TOKEN_SYMBOL>",
  "amount_a": <float_value>,
  "token_b": "<UPPERCASE_TOKEN_SYMBOL>",
  "amount_b": <float_value>
}

Fail if:
- Less or more than two token-amount pairs
- Tokens are the same
- Any amount is not positive

DO NOT add any text before or after the JSON.
`))

// AddLiquidity 构造添加流动性参数提取提示词。
func AddLiquidity(userInput string) string {
	return render(addLiquidityTpl, map[string]string{"UserInput": userInput})
}

var conversationalTpl = template.Must(template.New("conversational").Parse(`
You are a helpful AI assistant specializing in EVM blockchain operations. Respond naturally to the user's query. If they're asking about specific blockchain operations not covered by other specialized prompts, explain clearly how they can format their request properly.

For blockchain-specific operations, remind users they can:
- Create a wallet
- Check their balance
- Send tokens to other addresses
- Swap between token types
- Add liquidity
- Analyze a contract address for risks

Keep responses concise, friendly, and focused on the user's question. Avoid making up information when unsure - instead, guide them toward supported operations.

User query: {{.UserInput}}
`))

// Conversational 构造兜底闲聊提示词。
func Conversational(userInput string) string {
	return render(conversationalTpl, map[string]string{"UserInput": userInput})
}

var generateAccountTpl = template.Must(template.New("generate_account").Parse(`
Generate a welcoming message that includes ALL of these elements in order:

1. Welcome message that conveys enthusiasm for the user joining
2. Security explanation: private keys are generated and held server-side for this session only
3. Account address display, EXACTLY as provided, make no changes: {{.Address}}

Important rules:
- DO NOT modify the address in any way
- Explain that addresses are public information
- Use markdown for formatting
- Keep the message concise (max 4 sentences)
`))

// GenerateAccount 构造新账户欢迎语提示词。
func GenerateAccount(address string) string {
	return render(generateAccountTpl, map[string]string{"Address": address})
}

var txRiskTpl = template.Must(template.New("tx_risk").Parse(`
Analyze this blockchain transaction for security risks:

{{.TxJSON}}

Focus on:
1. Is this a known scam pattern?
2. Does the transaction data contain suspicious functions?
3. Is the gas price appropriate?
4. Is the transaction value unusual?
5. Is the transaction likely to succeed based on simulation?

Provide a JSON response with:
- security_score: 0-100 (higher is safer)
- risk_assessment: Short description of risks
- recommendation: Action to take
`))

// TransactionRisk 构造交易风险评估提示词，TxJSON 为人类可读的交易摘要 JSON。
func TransactionRisk(txJSON string) string {
	return render(txRiskTpl, map[string]string{"TxJSON": txJSON})
}

var contractRiskTpl = template.Must(template.New("contract_risk").Parse(`
Analyze this smart contract for security risks:

{{.AnalysisJSON}}

Focus on:
1. Is this a known malicious pattern?
2. Are there dangerous functions that could risk user funds?
3. Is the contract upgradeable and if so, what are the risks?
4. Are there centralized control risks?
5. What access control issues might be present?

Provide a JSON response with:
- security_score: 0-100 (higher is safer)
- risk_assessment: Short description of overall risk
- findings: List of specific issues found, each with:
  * title: Brief name of the issue
  * category: One of [implementation, access_control, upgradeable, external_calls, financial, operational]
  * risk_level: One of [safe, low, medium, high, critical]
  * description: Detailed explanation
  * recommendation: How to mitigate the risk
`))

// ContractRisk 构造合约风险评估提示词，AnalysisJSON 为静态扫描结果 JSON。
func ContractRisk(analysisJSON string) string {
	return render(contractRiskTpl, map[string]string{"AnalysisJSON": analysisJSON})
}

// FollowUpTokenOperation 在参数提取失败时直接回复用户，不经过大模型。
const FollowUpTokenOperation = `I couldn't extract all the needed details from your request. For token operations, please provide:

For sending tokens:
- The complete recipient address (starting with 0x)
- The amount you want to send

For swapping tokens:
- The token you want to swap from (e.g., FLR, WFLR)
- The token you want to swap to (e.g., USDC, USDT)
- The amount you want to swap

For adding liquidity:
- Both token types for the pair
- The amounts for each token

Could you please provide these details so I can process your request?`
