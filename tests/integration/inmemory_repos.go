package integration

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mindwell-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// In-memory implementations of the persistence ports, mutex-guarded so the
// end-to-end tests exercise the real services without PostgreSQL.

// nopTx satisfies pgx.Tx for the transactor port. The in-memory repos
// apply writes immediately, so commit and rollback are no-ops.
type nopTx struct{}

func (nopTx) Begin(context.Context) (pgx.Tx, error) { return nopTx{}, nil }
func (nopTx) Commit(context.Context) error          { return nil }
func (nopTx) Rollback(context.Context) error        { return nil }
func (nopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (nopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (nopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (nopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (nopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (nopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (nopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (nopTx) Conn() *pgx.Conn                                         { return nil }

type memTransactor struct{}

func (memTransactor) Begin(context.Context) (pgx.Tx, error) { return nopTx{}, nil }

// --- Users ---

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func copyUser(u *domain.User) *domain.User {
	cp := *u
	if u.MFASecretEnc != nil {
		s := *u.MFASecretEnc
		cp.MFASecretEnc = &s
	}
	cp.BackupCodes = append([]string(nil), u.BackupCodes...)
	return &cp
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = copyUser(user)
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, _ pgx.Tx, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.PasswordHash = passwordHash
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *memUserRepo) SetEmailVerified(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.EmailVerified = true
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *memUserRepo) UpdateMFA(_ context.Context, id uuid.UUID, enabled bool, secretEnc *string, backupCodes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.MFAEnabled = enabled
		if secretEnc != nil {
			s := *secretEnc
			u.MFASecretEnc = &s
		} else {
			u.MFASecretEnc = nil
		}
		u.BackupCodes = append([]string(nil), backupCodes...)
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *memUserRepo) ConsumeBackupCode(_ context.Context, id uuid.UUID, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	for i, h := range u.BackupCodes {
		if h == codeHash {
			u.BackupCodes = append(u.BackupCodes[:i], u.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.UserStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Status = status
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// --- Sessions ---

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.Token] = &cp
	return nil
}

func (r *memSessionRepo) GetByToken(_ context.Context, token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[token]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) Touch(_ context.Context, token string, lastActive, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[token]; ok && s.ValidAt(lastActive) {
		s.LastActiveAt = lastActive
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
	return nil
}

func (r *memSessionRepo) DeleteByUser(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) RecentByUser(_ context.Context, userID uuid.UUID, limit int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, s := range r.sessions {
		if !s.ValidAt(now) {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

// --- Login attempts ---

type memLoginAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.LoginAttempt
}

func newMemLoginAttemptRepo() *memLoginAttemptRepo { return &memLoginAttemptRepo{} }

func (r *memLoginAttemptRepo) Create(_ context.Context, attempt *domain.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *memLoginAttemptRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	var n int64
	for _, a := range r.attempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return n, nil
}

func (r *memLoginAttemptRepo) all() []domain.LoginAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.LoginAttempt(nil), r.attempts...)
}

// --- Webhook events ---

type memWebhookEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.WebhookEvent
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{events: make(map[uuid.UUID]*domain.WebhookEvent)}
}

func copyEvent(e *domain.WebhookEvent) *domain.WebhookEvent {
	cp := *e
	if e.ResponseCode != nil {
		v := *e.ResponseCode
		cp.ResponseCode = &v
	}
	if e.ResponseBody != nil {
		v := *e.ResponseBody
		cp.ResponseBody = &v
	}
	if e.ErrorMessage != nil {
		v := *e.ErrorMessage
		cp.ErrorMessage = &v
	}
	if e.NextRetryAt != nil {
		v := *e.NextRetryAt
		cp.NextRetryAt = &v
	}
	return &cp
}

func (r *memWebhookEventRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = copyEvent(event)
	return nil
}

func (r *memWebhookEventRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

func (r *memWebhookEventRepo) ClaimProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return false, nil
	}
	if e.Status != domain.WebhookStatusPending && e.Status != domain.WebhookStatusRetrying {
		return false, nil
	}
	e.Status = domain.WebhookStatusProcessing
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memWebhookEventRepo) FinishProcessing(_ context.Context, event *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.events[event.ID]
	if !ok || stored.Status != domain.WebhookStatusProcessing {
		return false, nil
	}
	r.events[event.ID] = copyEvent(event)
	return true, nil
}

func (r *memWebhookEventRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, e := range r.events {
		switch e.Status {
		case domain.WebhookStatusPending:
			out = append(out, *copyEvent(e))
		case domain.WebhookStatusRetrying:
			if e.NextRetryAt == nil || !e.NextRetryAt.After(now) {
				out = append(out, *copyEvent(e))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Webhook delivery logs ---

type memWebhookLogRepo struct {
	mu   sync.Mutex
	logs []domain.WebhookDeliveryLog
}

func newMemWebhookLogRepo() *memWebhookLogRepo { return &memWebhookLogRepo{} }

func (r *memWebhookLogRepo) Create(_ context.Context, log *domain.WebhookDeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *memWebhookLogRepo) ListByEvent(_ context.Context, eventID uuid.UUID) ([]domain.WebhookDeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookDeliveryLog
	for _, l := range r.logs {
		if l.EventID == eventID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

// --- Security events ---

type memSecurityEventRepo struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func newMemSecurityEventRepo() *memSecurityEventRepo { return &memSecurityEventRepo{} }

func (r *memSecurityEventRepo) Create(_ context.Context, event *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *memSecurityEventRepo) actions() []domain.SecurityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SecurityAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}
