package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// nopDriver backs BeginTx/Commit in tests; every statement goes through the
// repository fakes instead.
type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

var registerDriver sync.Once

func newTestDB() *sql.DB {
	registerDriver.Do(func() { sql.Register("noptest", nopDriver{}) })
	db, _ := sql.Open("noptest", "")
	return db
}

// fakePostRepo is an in-memory stand-in for the posts table. Conditional
// transitions follow the same guards as the SQL implementation.
type fakePostRepo struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*models.Post

	heartbeats int
	recent     []*models.Post

	reapCount int64
	claimErr  error
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[int64]*models.Post{}}
}

func (f *fakePostRepo) add(p *models.Post) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	if p.Status == "" {
		p.Status = models.StatusScheduled
	}
	f.posts[p.ID] = p
	return p
}

func (f *fakePostRepo) get(id int64) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[id]
}

func (f *fakePostRepo) inWindow(accountID int64, start, end time.Time) []*models.Post {
	var out []*models.Post
	for _, p := range f.posts {
		if p.AccountID == accountID && p.Status.Active() &&
			!p.ScheduledAt.Before(start) && p.ScheduledAt.Before(end) {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePostRepo) Upsert(_ context.Context, _ *sql.Tx, post *models.Post) (repository.UpsertResult, error) {
	if post.ClientRequestID.Valid {
		f.mu.Lock()
		for _, p := range f.posts {
			if p.AccountID == post.AccountID && p.ClientRequestID.Valid &&
				p.ClientRequestID.String == post.ClientRequestID.String {
				p.ScheduledAt = post.ScheduledAt
				p.MediaURL = post.MediaURL
				p.Caption = post.Caption
				f.mu.Unlock()
				return repository.UpsertResult{ID: p.ID, Inserted: false}, nil
			}
		}
		f.mu.Unlock()
	}
	f.add(post)
	return repository.UpsertResult{ID: post.ID, Inserted: true}, nil
}

func (f *fakePostRepo) GetByID(_ context.Context, id int64) (*models.Post, error) {
	return f.get(id), nil
}

func (f *fakePostRepo) ListByRange(_ context.Context, accountID int64, start, end time.Time) ([]*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, p := range f.posts {
		if p.AccountID == accountID && !p.ScheduledAt.Before(start) && p.ScheduledAt.Before(end) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (f *fakePostRepo) FindSpacingConflict(_ context.Context, accountID int64, at time.Time, spacing time.Duration) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.AccountID != accountID || !p.Status.Active() {
			continue
		}
		d := p.ScheduledAt.Sub(at)
		if d < 0 {
			d = -d
		}
		if d < spacing {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePostRepo) CountActiveInWindow(_ context.Context, accountID int64, start, end time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inWindow(accountID, start, end)), nil
}

func (f *fakePostRepo) ListActiveTimesInWindow(_ context.Context, accountID int64, start, end time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, p := range f.inWindow(accountID, start, end) {
		out = append(out, p.ScheduledAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakePostRepo) CancelNewestInWindow(_ context.Context, _ *sql.Tx, accountID int64, start, end time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := f.inWindow(accountID, start, end)
	sort.Slice(matched, func(i, j int) bool { return matched[i].ScheduledAt.After(matched[j].ScheduledAt) })
	var n int64
	for i := 0; i < limit && i < len(matched); i++ {
		matched[i].Status = models.StatusCanceled
		n++
	}
	return n, nil
}

func (f *fakePostRepo) ClaimDue(_ context.Context, lookahead time.Duration, limit int) ([]repository.ClaimedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	horizon := time.Now().Add(lookahead)
	var out []repository.ClaimedPost
	for _, p := range f.posts {
		if len(out) >= limit {
			break
		}
		if p.Status != models.StatusScheduled || p.ScheduledAt.After(horizon) {
			continue
		}
		if p.NextAttemptAt.Valid && time.Now().Before(p.NextAttemptAt.Time) {
			continue
		}
		p.Status = models.StatusQueued
		p.JobID = sql.NullString{String: "publish-" + itoa(p.ID), Valid: true}
		out = append(out, repository.ClaimedPost{ID: p.ID, JobID: p.JobID.String})
	}
	return out, nil
}

func (f *fakePostRepo) ReapStuck(context.Context, time.Duration, time.Duration) (int64, error) {
	return f.reapCount, nil
}

func (f *fakePostRepo) ClaimForPublish(_ context.Context, id int64, workerID string) (*models.Post, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != models.StatusQueued {
		return nil, repository.ErrNotClaimed
	}
	p.Status = models.StatusPublishing
	p.LockedBy = sql.NullString{String: workerID, Valid: true}
	p.LockedAt = sql.NullTime{Time: time.Now(), Valid: true}
	cp := *p
	return &cp, nil
}

func (f *fakePostRepo) Heartbeat(context.Context, int64, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakePostRepo) MarkPublished(_ context.Context, id int64, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	if p == nil || p.Status != models.StatusPublishing {
		return models.ErrInvalidTransition
	}
	p.Status = models.StatusPublished
	p.PublishResult = result
	return nil
}

func (f *fakePostRepo) ScheduleRetry(_ context.Context, id int64, code string, payload json.RawMessage, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	if p == nil || p.Status != models.StatusPublishing {
		return models.ErrInvalidTransition
	}
	p.Status = models.StatusScheduled
	p.RetryCount++
	p.ErrorCode = sql.NullString{String: code, Valid: true}
	p.NextAttemptAt = sql.NullTime{Time: time.Now().Add(delay), Valid: true}
	p.PublishResult = payload
	return nil
}

func (f *fakePostRepo) MarkFailed(_ context.Context, id int64, code string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.posts[id]
	if p == nil || p.Status != models.StatusPublishing {
		return models.ErrInvalidTransition
	}
	p.Status = models.StatusFailed
	p.ErrorCode = sql.NullString{String: code, Valid: true}
	p.PublishResult = payload
	return nil
}

func (f *fakePostRepo) ListRecentByAccount(_ context.Context, accountID int64, limit int) ([]*models.Post, error) {
	if f.recent != nil {
		return f.recent, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Post
	for _, p := range f.posts {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakePostRepo) FailScheduledForAccount(_ context.Context, accountID int64, code string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.posts {
		if p.AccountID == accountID && p.Status == models.StatusScheduled {
			p.Status = models.StatusFailed
			p.ErrorCode = sql.NullString{String: code, Valid: true}
			n++
		}
	}
	return n, nil
}

func (f *fakePostRepo) Now(context.Context) (time.Time, error) {
	return time.Now(), nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account

	setActiveCalls []bool
}

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	f := &fakeAccountRepo{accounts: map[int64]*models.Account{}}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetActive(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.accounts[id]
	if a == nil || !a.Active {
		return nil, nil
	}
	return a, nil
}

func (f *fakeAccountRepo) List(_ context.Context, active *bool) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		if active == nil || a.Active == *active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) SetActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setActiveCalls = append(f.setActiveCalls, active)
	if a := f.accounts[id]; a != nil {
		a.Active = active
	}
	return nil
}

func (f *fakeAccountRepo) GetTimezone(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.accounts[id]; a != nil && a.Timezone != "" {
		return a.Timezone, nil
	}
	return "UTC", nil
}

type fakeGraph struct {
	photoErr error
	reelErr  error

	photoCalls int
	reelCalls  int
}

func (f *fakeGraph) PublishPhoto(_ context.Context, _, _, imageURL, _ string) (json.RawMessage, error) {
	f.photoCalls++
	if f.photoErr != nil {
		return nil, f.photoErr
	}
	return json.RawMessage(`{"step2":"123"}`), nil
}

func (f *fakeGraph) PublishReel(_ context.Context, _, _, _, _ string, _ bool, heartbeat func()) (json.RawMessage, error) {
	f.reelCalls++
	if heartbeat != nil {
		heartbeat()
	}
	if f.reelErr != nil {
		return nil, f.reelErr
	}
	return json.RawMessage(`{"step2":"456"}`), nil
}

type fakeReport struct {
	entries []transfer.SkipEntry
	err     error
}

func (f *fakeReport) WriteSkipReport(_ context.Context, entries []transfer.SkipEntry) (string, error) {
	f.entries = entries
	if f.err != nil {
		return "", f.err
	}
	return "https://reports.example/skipped.csv", nil
}
