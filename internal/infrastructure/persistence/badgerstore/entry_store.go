// Package badgerstore implements leaderboard.EntryStore on an embedded
// BadgerDB database, for single-node deployments without PostgreSQL.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sudokuhub/power-index/internal/domain/leaderboard"
)

var entryPrefix = []byte("entry:")

func entryKey(userID string) []byte {
	return []byte(fmt.Sprintf("entry:%s", userID))
}

// Options configures the store.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory.
	InMemory bool

	// Logger receives badger's own log output.
	Logger *logrus.Logger

	// Roster resolves usernames for reads. Optional.
	Roster leaderboard.Roster
}

// EntryStore is a BadgerDB implementation of leaderboard.EntryStore.
type EntryStore struct {
	db     *badger.DB
	roster leaderboard.Roster
	logger *logrus.Logger
}

var _ leaderboard.EntryStore = (*EntryStore)(nil)

// Open opens (or creates) the database.
func Open(opts Options) (*EntryStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Dir == "" && !opts.InMemory {
		return nil, errors.New("badger directory is required")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts.Logger = &badgerLogger{logger: opts.Logger}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}

	return &EntryStore{
		db:     db,
		roster: opts.Roster,
		logger: opts.Logger,
	}, nil
}

// Close closes the database.
func (s *EntryStore) Close() error {
	return s.db.Close()
}

// record is the stored form of an entry. Usernames are not stored.
type record struct {
	UserID    string    `json:"user_id"`
	Score     float64   `json:"score"`
	Solved    int       `json:"solved"`
	Rank      int       `json:"rank"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r record) entry() leaderboard.Entry {
	return leaderboard.Entry{
		UserID:    r.UserID,
		Score:     r.Score,
		Solved:    r.Solved,
		Rank:      leaderboard.Rank(r.Rank),
		UpdatedAt: r.UpdatedAt,
	}
}

func readRecord(item *badger.Item) (record, error) {
	var rec record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func writeRecord(txn *badger.Txn, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal entry")
	}
	return txn.Set(entryKey(rec.UserID), data)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE WRITES
// ══════════════════════════════════════════════════════════════════════════════

func upsertTxn(txn *badger.Txn, st leaderboard.Standing) error {
	rec := record{
		UserID:    st.UserID,
		Score:     st.Score,
		Solved:    st.Solved,
		UpdatedAt: st.UpdatedAt,
	}

	item, err := txn.Get(entryKey(st.UserID))
	switch {
	case err == nil:
		prev, err := readRecord(item)
		if err != nil {
			return errors.Wrap(err, "failed to decode entry")
		}
		rec.Rank = prev.Rank
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	return writeRecord(txn, rec)
}

// Upsert writes score, solved and updated_at; an existing rank is kept.
func (s *EntryStore) Upsert(ctx context.Context, st leaderboard.Standing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.UserID == "" {
		return leaderboard.ErrInvalidUserID
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return upsertTxn(txn, st)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upsert entry %s", st.UserID)
	}
	return nil
}

// UpsertMany writes all standings in one transaction.
func (s *EntryStore) UpsertMany(ctx context.Context, standings []leaderboard.Standing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(standings) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, st := range standings {
			if st.UserID == "" {
				return leaderboard.ErrInvalidUserID
			}
			if err := upsertTxn(txn, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to upsert entries")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK RECOMPUTE
// ══════════════════════════════════════════════════════════════════════════════

// UpdateRanks reads every entry and writes all ranks in one transaction.
// A concurrent write to any read entry aborts the commit with
// leaderboard.ErrRankWriteConflict and nothing is written.
func (s *EntryStore) UpdateRanks(ctx context.Context, assign leaderboard.RankAssigner) ([]leaderboard.RankAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var assignments []leaderboard.RankAssignment
	err := s.db.Update(func(txn *badger.Txn) error {
		records, err := scanRecords(txn)
		if err != nil {
			return err
		}

		snapshot := make([]leaderboard.Entry, len(records))
		byID := make(map[string]record, len(records))
		for i, rec := range records {
			snapshot[i] = rec.entry()
			byID[rec.UserID] = rec
		}

		assignments = assign(snapshot)
		for _, a := range assignments {
			rec, ok := byID[a.UserID]
			if !ok {
				continue
			}
			rec.Rank = int(a.Rank)
			if err := writeRecord(txn, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", leaderboard.ErrRankWriteConflict, err)
		}
		return nil, errors.Wrap(err, "failed to update ranks")
	}
	return assignments, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func scanRecords(txn *badger.Txn) ([]record, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var records []record
	for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
		rec, err := readRecord(it.Item())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", it.Item().Key())
		}
		records = append(records, rec)
	}
	return records, nil
}

// List returns all entries: ranked first by rank, then unranked by score.
func (s *EntryStore) List(ctx context.Context) ([]leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		records, err = scanRecords(txn)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entries")
	}

	names, err := s.usernames(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]leaderboard.Entry, len(records))
	for i, rec := range records {
		entries[i] = rec.entry()
		entries[i].Username = names[rec.UserID]
	}
	return leaderboard.NewBoard(entries, time.Time{}).Entries, nil
}

// Get returns a user's entry or leaderboard.ErrEntryNotFound.
func (s *EntryStore) Get(ctx context.Context, userID string) (*leaderboard.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return leaderboard.ErrEntryNotFound
			}
			return err
		}
		rec, err = readRecord(item)
		return err
	})
	if err != nil {
		if errors.Is(err, leaderboard.ErrEntryNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to get entry")
	}

	e := rec.entry()
	if s.roster != nil {
		u, err := s.roster.GetUser(ctx, userID)
		switch {
		case err == nil:
			e.Username = u.Username
		case !errors.Is(err, leaderboard.ErrUserNotFound):
			return nil, errors.Wrap(err, "failed to resolve username")
		}
	}
	return &e, nil
}

func (s *EntryStore) usernames(ctx context.Context) (map[string]string, error) {
	if s.roster == nil {
		return nil, nil
	}
	users, err := s.roster.ListUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve usernames")
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// badgerLogger adapts logrus logger to badger's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
