package dedup

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memRecord struct {
	mergeKey  string
	protected bool
}

type memPage struct {
	recordID   string
	pageNumber int
}

type memState struct {
	records    map[string]*memRecord
	pages      map[string]*memPage
	mergedInto map[string]string
}

func newMemState() memState {
	return memState{records: map[string]*memRecord{}, pages: map[string]*memPage{}, mergedInto: map[string]string{}}
}

func (s memState) clone() memState {
	out := newMemState()
	for id, survivor := range s.mergedInto {
		out.mergedInto[id] = survivor
	}
	for id, r := range s.records {
		c := *r
		out.records[id] = &c
	}
	for id, p := range s.pages {
		c := *p
		out.pages[id] = &c
	}
	return out
}

// memStore is a serializable in-memory Store: transactions run one at a
// time on a copy that replaces the committed state on success.
type memStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool

	failDelete   error
	beforeSetKey func(s *memState)
	locked       []string
	journal      *journal
}

// journal records lock, commit and release events in order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func newMemStore() *memStore {
	st := newMemState()
	return &memStore{
		mu:      &sync.Mutex{},
		state:   &st,
		journal: &journal{},
	}
}

func (m *memStore) addRecord(id string, pages ...string) {
	m.state.records[id] = &memRecord{}
	for i, p := range pages {
		m.state.pages[p] = &memPage{recordID: id, pageNumber: i + 1}
	}
}

func (m *memStore) FindByMergeKey(_ context.Context, key, excludeID string, _ bool) (string, bool, error) {
	ids := make([]string, 0, len(m.state.records))
	for id := range m.state.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id != excludeID && m.state.records[id].mergeKey == key {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *memStore) Exists(_ context.Context, id string) (bool, error) {
	_, ok := m.state.records[id]
	return ok, nil
}

func (m *memStore) ListPages(_ context.Context, recordID string) ([]Page, error) {
	var out []Page
	for id, p := range m.state.pages {
		if p.recordID == recordID {
			out = append(out, Page{ID: id, PageNumber: p.pageNumber})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

func (m *memStore) ReassignPage(_ context.Context, pageID, recordID string, pageNumber int) error {
	p, ok := m.state.pages[pageID]
	if !ok {
		return errors.New("page not found")
	}
	p.recordID = recordID
	p.pageNumber = pageNumber
	return nil
}

func (m *memStore) Protected(_ context.Context, id string) (bool, error) {
	r, ok := m.state.records[id]
	if !ok {
		return false, errors.New("record not found")
	}
	return r.protected, nil
}

func (m *memStore) DeleteRecord(_ context.Context, id, survivorID string) error {
	if m.failDelete != nil {
		return m.failDelete
	}
	delete(m.state.records, id)
	m.state.mergedInto[id] = survivorID
	for pid, p := range m.state.pages {
		if p.recordID == id {
			delete(m.state.pages, pid)
		}
	}
	return nil
}

func (m *memStore) SetMergeKey(_ context.Context, id, key string) error {
	if m.beforeSetKey != nil {
		m.beforeSetKey(m.state)
	}
	for rid, r := range m.state.records {
		if rid != id && r.mergeKey == key {
			return ErrDuplicateKey
		}
	}
	r, ok := m.state.records[id]
	if !ok {
		return errors.New("record not found")
	}
	r.mergeKey = key
	return nil
}

func (m *memStore) LockMergeKey(_ context.Context, key string) (func(), error) {
	m.locked = append(m.locked, key)
	m.journal.add("lock " + key)
	return func() { m.journal.add("release " + key) }, nil
}

func (m *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	tx := &memStore{mu: m.mu, state: &snapshot, inTx: true, failDelete: m.failDelete, beforeSetKey: m.beforeSetKey, journal: m.journal}
	err := fn(tx)
	m.locked = append(m.locked, tx.locked...)
	if err != nil {
		m.journal.add("rollback")
		return err
	}
	*m.state = snapshot
	m.journal.add("commit")
	return nil
}
