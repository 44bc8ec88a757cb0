package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/ops-portal/internal/domain"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/notify"
	"github.com/spec-kit/ops-portal/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type txKey struct{}

// malformedID behaves like an id Postgres refuses to cast to UUID.
const malformedID = "not-a-uuid"

func checkID(id string) error {
	if id == malformedID {
		return &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "` + id + `"`}
	}
	return nil
}

// memStore is an in-memory stand-in for the Postgres repositories. A
// transaction holds txMu for its whole run, which mirrors the row lock taken
// by GetByIDForUpdate, and restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	now  func() time.Time

	actors    map[string]domain.Actor
	requests  map[string]domain.Request
	approvals []domain.RequestApproval
	tickets   map[string]domain.Ticket
	comments  []domain.TicketComment
	history   []domain.TicketHistory
	numbers   map[string]bool
	seq       int

	// duplicateNumbers makes the next creates report a number collision.
	duplicateNumbers int
	failUpdateStatus error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:      now,
		actors:   map[string]domain.Actor{},
		requests: map[string]domain.Request{},
		tickets:  map[string]domain.Ticket{},
		numbers:  map[string]bool{},
	}
}

type memSnapshot struct {
	requests  map[string]domain.Request
	approvals []domain.RequestApproval
	tickets   map[string]domain.Ticket
	comments  []domain.TicketComment
	history   []domain.TicketHistory
	numbers   map[string]bool
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		requests:  make(map[string]domain.Request, len(s.requests)),
		approvals: append([]domain.RequestApproval(nil), s.approvals...),
		tickets:   make(map[string]domain.Ticket, len(s.tickets)),
		comments:  append([]domain.TicketComment(nil), s.comments...),
		history:   append([]domain.TicketHistory(nil), s.history...),
		numbers:   make(map[string]bool, len(s.numbers)),
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.tickets {
		snap.tickets[k] = v
	}
	for k, v := range s.numbers {
		snap.numbers[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = snap.requests
	s.approvals = snap.approvals
	s.tickets = snap.tickets
	s.comments = snap.comments
	s.history = snap.history
	s.numbers = snap.numbers
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) addActor(actor domain.Actor) *domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}
	if actor.Role == "" {
		actor.Role = domain.ActorRoleEmployee
	}
	actor.Active = true
	s.actors[actor.ID] = actor
	return &actor
}

func (s *memStore) tick() time.Time {
	s.seq++
	return s.now().Add(time.Duration(s.seq) * time.Microsecond)
}

func (s *memStore) claimNumber(number string) error {
	if s.duplicateNumbers > 0 {
		s.duplicateNumbers--
		return repository.ErrDuplicateNumber
	}
	if s.numbers[number] {
		return repository.ErrDuplicateNumber
	}
	s.numbers[number] = true
	return nil
}

// actors

type memActors struct{ *memStore }

func (r memActors) GetByID(_ context.Context, id string) (*domain.Actor, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &actor, nil
}

func (r memActors) GetByEmail(_ context.Context, email string) (*domain.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, actor := range r.actors {
		if actor.Email == email {
			found := actor
			return &found, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// requests

type memRequests struct{ *memStore }

func (r memRequests) Create(_ context.Context, request *domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimNumber(request.Number); err != nil {
		return err
	}
	request.ID = uuid.NewString()
	request.CreatedAt = r.tick()
	request.UpdatedAt = request.CreatedAt
	r.requests[request.ID] = *request
	return nil
}

func (r memRequests) GetByID(_ context.Context, id string) (*domain.Request, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &request, nil
}

func (r memRequests) GetByIDForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.GetByID(ctx, id)
}

func (r memRequests) UpdateStatus(_ context.Context, id string, status domain.RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateStatus != nil {
		return r.failUpdateStatus
	}
	request, ok := r.requests[id]
	if !ok {
		return pgx.ErrNoRows
	}
	request.Status = status
	request.UpdatedAt = r.tick()
	r.requests[id] = request
	return nil
}

func (r memRequests) ListUnrouted(_ context.Context, limit int) ([]domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	routed := map[string]bool{}
	for _, approval := range r.approvals {
		routed[approval.RequestID] = true
	}
	var result []domain.Request
	for _, request := range r.requests {
		if request.Status == domain.RequestStatusPendingApproval && !routed[request.ID] {
			result = append(result, request)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// approvals

type memApprovals struct{ *memStore }

func (r memApprovals) Create(_ context.Context, approval *domain.RequestApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.approvals {
		if existing.RequestID != approval.RequestID {
			continue
		}
		if existing.Level == approval.Level {
			return repository.ErrDuplicateLevel
		}
		if existing.ApproverID == approval.ApproverID && existing.Status == domain.ApprovalStatusPending {
			return repository.ErrApproverPending
		}
	}
	approval.ID = uuid.NewString()
	approval.CreatedAt = r.tick()
	r.approvals = append(r.approvals, *approval)
	return nil
}

func (r memApprovals) RecordDecision(_ context.Context, requestID, approverID string, status domain.ApprovalStatus, comments *string, decidedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for i := range r.approvals {
		a := &r.approvals[i]
		if a.RequestID == requestID && a.ApproverID == approverID && a.Status == domain.ApprovalStatusPending {
			a.Status = status
			a.Comments = comments
			stamp := decidedAt
			a.DecidedAt = &stamp
			changed++
		}
	}
	return changed, nil
}

func (r memApprovals) ListByRequest(_ context.Context, requestID string) ([]domain.RequestApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.RequestApproval
	for _, approval := range r.approvals {
		if approval.RequestID == requestID {
			result = append(result, approval)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result, nil
}

// tickets

type memTickets struct{ *memStore }

func (r memTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimNumber(ticket.Number); err != nil {
		return err
	}
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = r.tick()
	ticket.UpdatedAt = ticket.CreatedAt
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r memTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Priority = ticket.Priority
	stored.Category = ticket.Category
	stored.Status = ticket.Status
	stored.AssigneeID = ticket.AssigneeID
	stored.ResolvedAt = ticket.ResolvedAt
	stored.ClosedAt = ticket.ClosedAt
	stored.UpdatedAt = r.tick()
	ticket.UpdatedAt = stored.UpdatedAt
	r.tickets[ticket.ID] = stored
	return nil
}

func (r memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ticket, nil
}

func (r memTickets) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r memTickets) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.Overdue(now) {
			result = append(result, ticket)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SLADeadline.Before(result[j].SLADeadline) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// comments and history

type memComments struct{ *memStore }

func (r memComments) Create(_ context.Context, comment *domain.TicketComment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	comment.ID = uuid.NewString()
	comment.CreatedAt = r.tick()
	r.comments = append(r.comments, *comment)
	return nil
}

func (r memComments) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketComment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketComment
	for i := len(r.comments) - 1; i >= 0; i-- {
		if r.comments[i].TicketID == ticketID {
			result = append(result, r.comments[i])
		}
	}
	return result, nil
}

type memHistory struct{ *memStore }

func (r memHistory) Create(_ context.Context, entry *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.tick()
	r.history = append(r.history, *entry)
	return nil
}

func (r memHistory) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range r.history {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

// notifications

type recordingSender struct {
	mu       sync.Mutex
	messages []notify.Message
	fail     error
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.messages...)
}

type countingFailures struct {
	mu     sync.Mutex
	counts map[events.EventType]int
}

func (c *countingFailures) RecordNotificationFailure(eventType events.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[events.EventType]int{}
	}
	c.counts[eventType]++
}

func (c *countingFailures) count(eventType events.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[eventType]
}

type harness struct {
	clock    *fakeClock
	store    *memStore
	sender   *recordingSender
	failures *countingFailures
	events   *eventLog
	requests *RequestService
	tickets  *TicketService
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, event events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]events.EventType, 0, len(l.events))
	for _, event := range l.events {
		types = append(types, event.Type)
	}
	return types
}

func newHarness(policy TicketPolicy) *harness {
	clock := newFakeClock()
	store := newMemStore(clock.Now)
	sender := &recordingSender{}
	failures := &countingFailures{}
	log := &eventLog{}
	dispatcher := events.NewInMemoryDispatcher()
	events.SubscribeAll(dispatcher, log.handle)
	NewNotificationService(dispatcher, sender, failures, nil, "https://ops.example.com/").RegisterHandlers()

	return &harness{
		clock:    clock,
		store:    store,
		sender:   sender,
		failures: failures,
		events:   log,
		requests: NewRequestService(RequestDependencies{
			RequestRepo:  memRequests{store},
			ApprovalRepo: memApprovals{store},
			Directory:    memActors{store},
			Transactor:   store,
			Dispatcher:   dispatcher,
			Now:          clock.Now,
		}),
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:  memTickets{store},
			CommentRepo: memComments{store},
			HistoryRepo: memHistory{store},
			Directory:   memActors{store},
			Transactor:  store,
			Dispatcher:  dispatcher,
			Policy:      policy,
			Now:         clock.Now,
		}),
	}
}
