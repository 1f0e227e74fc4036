package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DeFAI-Gateway/internal/defi"
	xerrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/notify"
	"DeFAI-Gateway/internal/oracle"
	"DeFAI-Gateway/internal/prompts"
	"DeFAI-Gateway/internal/risk"
	"DeFAI-Gateway/internal/session"
	"DeFAI-Gateway/internal/storage/mysql"
	"DeFAI-Gateway/internal/wallet"
	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/pkg/logger"
)

// Route 是语义路由的分类结果。
type Route string

const (
	RouteGenerateAccount Route = "GENERATE_ACCOUNT"
	RouteSendToken       Route = "SEND_TOKEN"
	RouteSwapToken       Route = "SWAP_TOKEN"
	RouteAddLiquidity    Route = "ADD_LIQUIDITY"
	RouteCheckBalance    Route = "CHECK_BALANCE"
	RouteAnalyzeContract Route = "ANALYZE_CONTRACT"
	RouteConversational  Route = "CONVERSATIONAL"
)

// Reply 是一轮对话的输出。
type Reply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Router 把自由文本消息路由到对应的业务处理器，是系统的业务核心。
type Router struct {
	ai          llm.Client
	reader      web3.ChainReader
	broadcaster web3.Broadcaster
	builder     *defi.Builder
	validator   *risk.Validator
	analyzer    *risk.Analyzer
	prices      *oracle.PriceFeed
	sessions    *session.Store
	history     mysql.HistoryRepository
	notifier    notify.Publisher
	llmTimeout  time.Duration
	log         *slog.Logger
}

// Option 定义可选的 Router 配置。
type Option func(*Router)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		if timeout > 0 {
			r.llmTimeout = timeout
		}
	}
}

// WithHistory 配置操作历史仓库。
func WithHistory(repo mysql.HistoryRepository) Option {
	return func(r *Router) {
		r.history = repo
	}
}

// WithNotifier 配置事件发布器。
func WithNotifier(publisher notify.Publisher) Option {
	return func(r *Router) {
		r.notifier = publisher
	}
}

// WithPriceFeed 配置价格源，用于余额的美元估值。
func WithPriceFeed(feed *oracle.PriceFeed) Option {
	return func(r *Router) {
		r.prices = feed
	}
}

// New 创建对话路由器。
func New(
	ai llm.Client,
	reader web3.ChainReader,
	broadcaster web3.Broadcaster,
	builder *defi.Builder,
	validator *risk.Validator,
	analyzer *risk.Analyzer,
	sessions *session.Store,
	opts ...Option,
) (*Router, error) {
	if ai == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if reader == nil || builder == nil || validator == nil || analyzer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链上组件")
	}
	if sessions == nil {
		sessions = session.NewStore()
	}

	r := &Router{
		ai:          ai,
		reader:      reader,
		broadcaster: broadcaster,
		builder:     builder,
		validator:   validator,
		analyzer:    analyzer,
		sessions:    sessions,
		notifier:    notify.Noop{},
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// HandleMessage 处理一条用户消息并返回回复。会话不存在时自动创建。
func (r *Router) HandleMessage(ctx context.Context, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}

	sess := r.sessions.GetOrCreate(sessionID)
	r.log.Info("收到消息", slog.String("session", sess.ID()))

	// 1. 斜杠命令
	if strings.HasPrefix(message, "/") {
		return r.reply(sess, r.handleCommand(sess, message)), nil
	}

	// 2. 待确认交易：消息与队首描述一致即视为确认。
	if head, ok := sess.Peek(); ok && head.Description == message {
		return r.reply(sess, r.confirmAndSend(ctx, sess, message)), nil
	}

	// 3. 语义路由
	route := r.semanticRoute(ctx, message)
	return r.reply(sess, r.dispatch(ctx, sess, route, message)), nil
}

func (r *Router) reply(sess *session.Session, response string) *Reply {
	return &Reply{Response: response, SessionID: sess.ID()}
}

func (r *Router) handleCommand(sess *session.Session, command string) string {
	if command == "/reset" {
		if _, err := r.sessions.Reset(sess.ID()); err != nil {
			return fmt.Sprintf("Reset failed: %v", err)
		}
		return "Reset complete"
	}
	return "Unknown command"
}

// confirmAndSend 校验并广播与确认消息对应的整批交易。
// 任何一笔被拒或广播失败都会丢弃批次里剩余的交易。
func (r *Router) confirmAndSend(ctx context.Context, sess *session.Session, message string) string {
	account := sess.Account()
	if account == nil {
		sess.ClearQueue()
		return "No account is bound to this session. Please create an account first."
	}

	var hashes []string
	for {
		head, ok := sess.Peek()
		if !ok || head.Description != message {
			break
		}
		item, _ := sess.Dequeue()

		result, err := r.validator.ValidateTransaction(ctx, item.Tx, account.Address())
		if err != nil {
			r.dropBatch(sess, message)
			return fmt.Sprintf("Unfortunately the tx failed with the error:\n%v", err)
		}
		if !result.IsValid {
			r.dropBatch(sess, message)
			r.recordHistory(ctx, sess.ID(), item.Description, "", result.Level.String(), "rejected")
			r.publish(ctx, notify.Event{
				Type:        notify.EventValidationRejected,
				SessionID:   sess.ID(),
				RiskLevel:   result.Level.String(),
				Description: item.Description,
			})
			return fmt.Sprintf("Transaction blocked by risk validation (%s).\n%s\nWarnings: %s",
				strings.ToUpper(result.Level.String()), result.Recommendation, strings.Join(result.Warnings, "; "))
		}

		signed, err := account.SignTx(*item.Tx)
		if err != nil {
			r.dropBatch(sess, message)
			return fmt.Sprintf("Unfortunately the tx failed with the error:\n%v", err)
		}

		hash, err := r.broadcaster.SendTransaction(ctx, signed)
		if err != nil {
			r.dropBatch(sess, message)
			return fmt.Sprintf("Unfortunately the tx failed with the error:\n%v", err)
		}
		if _, err := r.broadcaster.WaitReceipt(ctx, hash); err != nil {
			r.dropBatch(sess, message)
			return fmt.Sprintf("Unfortunately the tx failed with the error:\n%v", err)
		}

		hashes = append(hashes, hash.Hex())
		r.recordHistory(ctx, sess.ID(), item.Description, hash.Hex(), result.Level.String(), "broadcast")
		r.publish(ctx, notify.Event{
			Type:        notify.EventTxBroadcast,
			SessionID:   sess.ID(),
			TxHash:      hash.Hex(),
			RiskLevel:   result.Level.String(),
			Description: item.Description,
		})
	}

	if len(hashes) == 0 {
		return "No pending transaction matched your confirmation."
	}
	if len(hashes) == 1 {
		return fmt.Sprintf("Transaction sent. Hash: %s", hashes[0])
	}
	return fmt.Sprintf("All %d transactions sent. Hashes:\n%s", len(hashes), strings.Join(hashes, "\n"))
}

// dropBatch 丢弃队首所有共享同一描述的交易。
func (r *Router) dropBatch(sess *session.Session, description string) {
	for {
		head, ok := sess.Peek()
		if !ok || head.Description != description {
			return
		}
		sess.Dequeue()
	}
}

// semanticRoute 让大模型给消息分类，失败时兜底为闲聊。
func (r *Router) semanticRoute(ctx context.Context, message string) Route {
	response, err := r.generate(ctx, prompts.SemanticRouter(message))
	if err != nil {
		r.log.Warn("语义路由失败", slog.Any("error", err))
		return RouteConversational
	}

	normalized := strings.ToUpper(response)
	for _, route := range []Route{
		RouteGenerateAccount, RouteSendToken, RouteSwapToken,
		RouteAddLiquidity, RouteCheckBalance, RouteAnalyzeContract,
	} {
		if strings.Contains(normalized, string(route)) {
			return route
		}
	}
	return RouteConversational
}

func (r *Router) dispatch(ctx context.Context, sess *session.Session, route Route, message string) string {
	switch route {
	case RouteGenerateAccount:
		return r.handleGenerateAccount(ctx, sess)
	case RouteSendToken:
		return r.handleSendToken(ctx, sess, message)
	case RouteSwapToken:
		return r.handleSwapToken(ctx, sess, message)
	case RouteAddLiquidity:
		return r.handleAddLiquidity(ctx, sess, message)
	case RouteCheckBalance:
		return r.handleCheckBalance(ctx, sess)
	case RouteAnalyzeContract:
		return r.handleAnalyzeContract(ctx, message)
	default:
		return r.handleConversation(ctx, message)
	}
}

func (r *Router) handleGenerateAccount(ctx context.Context, sess *session.Session) string {
	native := r.builder.Registry().Native

	if account := sess.Account(); account != nil {
		balance, err := r.builder.NativeBalance(ctx, account.Address())
		if err != nil {
			return fmt.Sprintf("Account exists - %s", account.Hex())
		}
		return fmt.Sprintf("Account exists - %s\nBalance: %s %s %s",
			account.Hex(), balance.StringFixed(6), native, r.usdDisplay(ctx, native, balance))
	}

	account, err := wallet.Generate()
	if err != nil {
		return fmt.Sprintf("Failed to generate an account: %v", err)
	}
	sess.BindAccount(account)

	response, err := r.generate(ctx, prompts.GenerateAccount(account.Hex()))
	if err != nil {
		// 大模型不可用时直接给出地址。
		return fmt.Sprintf("Your new account is ready.\nAddress: %s\nThe private key is held server-side for this session only.", account.Hex())
	}
	return response
}

func (r *Router) handleSendToken(ctx context.Context, sess *session.Session, message string) string {
	account := r.ensureAccount(sess)
	if account == nil {
		return "Failed to prepare an account for this session."
	}

	var params struct {
		ToAddress string  `json:"to_address"`
		Amount    float64 `json:"amount"`
	}
	if !r.extract(ctx, prompts.TokenSend(message), &params) ||
		params.Amount <= 0 || !common.IsHexAddress(params.ToAddress) {
		return prompts.FollowUpTokenOperation
	}

	tx, err := r.builder.CreateTransferTx(ctx, account.Address(), params.ToAddress, decimal.NewFromFloat(params.Amount))
	if err != nil {
		return fmt.Sprintf("Failed to create transfer transaction: %v", err)
	}

	sess.Enqueue(session.QueuedTx{Tx: &tx, Description: message})
	return fmt.Sprintf("Transaction Preview: Sending %s %s to %s\nRepeat the same message to confirm.",
		decimal.NewFromBigInt(tx.Value, -18).String(), r.builder.Registry().Native, tx.To.Hex())
}

func (r *Router) handleSwapToken(ctx context.Context, sess *session.Session, message string) string {
	account := r.ensureAccount(sess)
	if account == nil {
		return "Failed to prepare an account for this session."
	}

	var params struct {
		FromToken string  `json:"from_token"`
		ToToken   string  `json:"to_token"`
		Amount    float64 `json:"amount"`
	}
	if !r.extract(ctx, prompts.SwapToken(message), &params) ||
		params.Amount <= 0 || params.FromToken == "" ||
		strings.EqualFold(params.FromToken, params.ToToken) {
		return prompts.FollowUpTokenOperation
	}

	txs, err := r.builder.CreateSwapTxs(ctx, account.Address(), params.FromToken, params.ToToken, decimal.NewFromFloat(params.Amount))
	if err != nil {
		return fmt.Sprintf("Failed to create swap transaction: %v", err)
	}

	queued := make([]session.QueuedTx, len(txs))
	for i := range txs {
		queued[i] = session.QueuedTx{Tx: &txs[i], Description: message}
	}
	sess.Enqueue(queued...)

	return fmt.Sprintf("Transaction Preview: Swapping %v %s to %s (%d transactions)\nRepeat the same message to confirm.",
		params.Amount, strings.ToUpper(params.FromToken), strings.ToUpper(params.ToToken), len(txs))
}

func (r *Router) handleAddLiquidity(ctx context.Context, sess *session.Session, message string) string {
	account := r.ensureAccount(sess)
	if account == nil {
		return "Failed to prepare an account for this session."
	}

	var params struct {
		TokenA  string  `json:"token_a"`
		AmountA float64 `json:"amount_a"`
		TokenB  string  `json:"token_b"`
		AmountB float64 `json:"amount_b"`
	}
	if !r.extract(ctx, prompts.AddLiquidity(message), &params) ||
		params.AmountA <= 0 || params.AmountB <= 0 ||
		strings.EqualFold(params.TokenA, params.TokenB) {
		return prompts.FollowUpTokenOperation
	}

	txs, err := r.builder.CreateAddLiquidityTxs(ctx, account.Address(),
		params.TokenA, params.TokenB,
		decimal.NewFromFloat(params.AmountA), decimal.NewFromFloat(params.AmountB))
	if err != nil {
		return fmt.Sprintf("Failed to create add liquidity transaction: %v", err)
	}

	queued := make([]session.QueuedTx, len(txs))
	for i := range txs {
		queued[i] = session.QueuedTx{Tx: &txs[i], Description: message}
	}
	sess.Enqueue(queued...)

	return fmt.Sprintf("Transaction Preview: Adding liquidity with %v %s and %v %s (%d transactions)\nRepeat the same message to confirm.",
		params.AmountA, strings.ToUpper(params.TokenA), params.AmountB, strings.ToUpper(params.TokenB), len(txs))
}

func (r *Router) handleCheckBalance(ctx context.Context, sess *session.Session) string {
	account := sess.Account()
	if account == nil {
		return "No account exists. Please create an account first with 'Create an account for me'."
	}

	registry := r.builder.Registry()
	lines := []string{"Your current balances:"}

	native, err := r.builder.NativeBalance(ctx, account.Address())
	if err != nil {
		return fmt.Sprintf("Failed to check balances: %v", err)
	}
	lines = append(lines, fmt.Sprintf("%s %s %s", native.StringFixed(6), registry.Native, r.usdDisplay(ctx, registry.Native, native)))

	for _, symbol := range registry.Symbols() {
		if registry.IsNative(symbol) {
			continue
		}
		balance, err := r.builder.TokenBalance(ctx, symbol, account.Address())
		if err != nil {
			r.log.Warn("查询代币余额失败", slog.String("token", symbol), slog.Any("error", err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", balance.StringFixed(6), symbol, r.usdDisplay(ctx, symbol, balance)))
	}

	if r.prices != nil {
		quote := r.prices.Price(ctx, registry.Native)
		if quote.Price.IsPositive() {
			lines = append(lines, "", fmt.Sprintf("Current %s price: $%s USD", registry.Native, quote.Price.StringFixed(4)))
			if quote.Timestamp > 0 {
				lines = append(lines, fmt.Sprintf("Price data timestamp: %d", quote.Timestamp))
			}
		}
	}

	return strings.Join(lines, "\n")
}

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

func (r *Router) handleAnalyzeContract(ctx context.Context, message string) string {
	address := addressPattern.FindString(message)
	if address == "" {
		return "Please include the contract address (starting with 0x) you would like me to analyze."
	}

	report, err := r.analyzer.AnalyzeContract(ctx, address, false)
	if err != nil {
		return fmt.Sprintf("Failed to analyze contract %s: %v", address, err)
	}

	if report.Level >= risk.LevelHigh {
		r.publish(ctx, notify.Event{
			Type:      notify.EventContractRiskFlagged,
			Address:   report.ContractAddress,
			RiskLevel: report.Level.String(),
		})
	}

	lines := []string{
		fmt.Sprintf("Risk analysis for %s", report.ContractAddress),
		fmt.Sprintf("Overall risk level: %s", strings.ToUpper(report.Level.String())),
		report.Summary,
	}
	for _, finding := range report.Findings {
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", finding.Level, finding.Title, finding.Description))
	}
	return strings.Join(lines, "\n")
}

func (r *Router) handleConversation(ctx context.Context, message string) string {
	response, err := r.generate(ctx, prompts.Conversational(message))
	if err != nil {
		r.log.Warn("闲聊回复失败", slog.Any("error", err))
		return "I'm having trouble reaching the language model right now. Please try again shortly."
	}
	return response
}

// ensureAccount 保证会话已绑定钱包，缺失时自动生成。
func (r *Router) ensureAccount(sess *session.Session) *wallet.Account {
	if account := sess.Account(); account != nil {
		return account
	}
	account, err := wallet.Generate()
	if err != nil {
		r.log.Error("生成会话钱包失败", slog.Any("error", err))
		return nil
	}
	sess.BindAccount(account)
	return account
}

// generate 调用大模型，带可选超时。
func (r *Router) generate(ctx context.Context, prompt string) (string, error) {
	if r.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.llmTimeout)
		defer cancel()
	}
	response, err := r.ai.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Content), nil
}

// extract 执行参数提取调用并解析 JSON，任何失败都返回 false，
// 由调用方给出跟进提示而不是报错。
func (r *Router) extract(ctx context.Context, prompt string, target any) bool {
	response, err := r.generate(ctx, prompt)
	if err != nil {
		r.log.Warn("参数提取调用失败", slog.Any("error", err))
		return false
	}
	extraction := llm.ExtractObject(response)
	if !extraction.Parsed {
		return false
	}
	if err := extraction.Decode(target); err != nil {
		r.log.Warn("参数提取解析失败", slog.Any("error", err))
		return false
	}
	return true
}

func (r *Router) usdDisplay(ctx context.Context, symbol string, amount decimal.Decimal) string {
	if r.prices == nil {
		return "(USD value unavailable)"
	}
	value := r.prices.USDValue(ctx, symbol, amount)
	if value.IsZero() && amount.IsPositive() {
		return "(USD value unavailable)"
	}
	return fmt.Sprintf("($%s)", value.StringFixed(2))
}

func (r *Router) recordHistory(ctx context.Context, sessionID, description, hash, level, status string) {
	if r.history == nil {
		return
	}
	record := mysql.TxRecord{
		SessionID:   sessionID,
		Description: description,
		TxHash:      hash,
		RiskLevel:   level,
		Status:      status,
		CreatedAt:   time.Now().Unix(),
	}
	if err := r.history.Save(ctx, record); err != nil {
		r.log.Warn("保存操作历史失败", slog.Any("error", err))
	}
}

// ListHistory 获取最近的操作记录。
func (r *Router) ListHistory(ctx context.Context, sessionID string, limit int) ([]mysql.TxRecord, error) {
	if r.history == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置历史仓库")
	}
	records, err := r.history.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询操作历史失败")
	}
	return records, nil
}

func (r *Router) publish(ctx context.Context, event notify.Event) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event); err != nil {
		r.log.Warn("发布事件失败", slog.String("type", event.Type), slog.Any("error", err))
	}
}

// Validator 暴露校验器，供 HTTP 层的独立校验端点复用。
func (r *Router) Validator() *risk.Validator {
	return r.validator
}

// Analyzer 暴露合约分析器，供 HTTP 层的独立分析端点复用。
func (r *Router) Analyzer() *risk.Analyzer {
	return r.analyzer
}
