package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "DeFAI-Gateway/internal/errors"
	"DeFAI-Gateway/internal/wallet"
	"DeFAI-Gateway/internal/web3"
)

// QueuedTx 是等待用户确认的一笔交易及其人类可读描述。
// 描述同时充当确认口令：用户原样回复描述即视为确认。
type QueuedTx struct {
	Tx          *web3.TxParams
	Description string
	EnqueuedAt  time.Time
}

// Session 保存一轮对话的全部状态：会话钱包与待确认交易队列。
type Session struct {
	mu        sync.Mutex
	id        string
	account   *wallet.Account
	queue     []QueuedTx
	createdAt time.Time
	touchedAt time.Time
}

// ID 返回会话标识。
func (s *Session) ID() string {
	return s.id
}

// Account 返回会话绑定的钱包，未生成时为 nil。
func (s *Session) Account() *wallet.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// BindAccount 绑定钱包。重复绑定会覆盖旧钱包。
func (s *Session) BindAccount(account *wallet.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = account
	s.touchedAt = time.Now()
}

// Enqueue 把一组交易原子地追加到待确认队列尾部。多腿操作
// （如 wrap+approve+swap）必须一次性入队，保持 nonce 顺序。
func (s *Session) Enqueue(items ...QueuedTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range items {
		items[i].EnqueuedAt = now
		s.queue = append(s.queue, items[i])
	}
	s.touchedAt = now
}

// Peek 返回队首交易但不出队。
func (s *Session) Peek() (QueuedTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return QueuedTx{}, false
	}
	return s.queue[0], true
}

// Dequeue 弹出队首交易。
func (s *Session) Dequeue() (QueuedTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return QueuedTx{}, false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.touchedAt = time.Now()
	return head, true
}

// PendingCount 返回待确认交易数量。
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ClearQueue 清空待确认队列，保留钱包。
func (s *Session) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.touchedAt = time.Now()
}

// Store 管理全部活跃会话。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore 创建空的会话仓库。
func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

// Create 生成新会话。
func (st *Store) Create() *Session {
	now := time.Now()
	sess := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		touchedAt: now,
	}
	st.mu.Lock()
	st.sessions[sess.id] = sess
	st.mu.Unlock()
	return sess
}

// Get 按标识查找会话。
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "会话不存在或已过期")
	}
	return sess, nil
}

// GetOrCreate 查找会话；id 为空或不存在时创建新会话。
func (st *Store) GetOrCreate(id string) *Session {
	if id != "" {
		if sess, err := st.Get(id); err == nil {
			return sess
		}
	}
	return st.Create()
}

// Reset 重建会话状态：丢弃钱包与队列，保留会话标识。
func (st *Store) Reset(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	old, ok := st.sessions[id]
	if !ok {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "会话不存在或已过期")
	}
	now := time.Now()
	fresh := &Session{id: old.id, createdAt: now, touchedAt: now}
	st.sessions[id] = fresh
	return fresh, nil
}

// Remove 删除会话。
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len 返回活跃会话数。
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
