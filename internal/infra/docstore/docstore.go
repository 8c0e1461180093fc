// Package docstore implements the document store contract on Postgres.
// Documents are JSONB rows keyed by collection and id. Subscriptions are
// query-and-requery: each live subscription holds its query, and a change
// signal on the collection (from this process or another node via redis)
// marks it dirty; a per-subscription worker re-runs the query and
// delivers the full result set.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmahbub/amarkotha/internal/domain"
	"github.com/mdmahbub/amarkotha/internal/infra/database/models"
	"github.com/mdmahbub/amarkotha/internal/service"
	"github.com/mdmahbub/amarkotha/store"
)

var tracer = otel.Tracer("docstore")

const docCacheTTL = 10 // seconds

// identifier-only JSON field names; anything else never reaches SQL text
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type DocStore struct {
	db     *gorm.DB
	mc     *memcache.Client
	signal *service.SignalService

	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
}

type subscription struct {
	query store.Query
	fn    store.SnapshotFunc
	dirty chan struct{}
	done  chan struct{}
	once  sync.Once
}

func NewDocStore(db *gorm.DB, mc *memcache.Client, signal *service.SignalService) *DocStore {
	return &DocStore{
		db:     db,
		mc:     mc,
		signal: signal,
		subs:   map[int]*subscription{},
	}
}

// Start consumes the change signal until ctx is cancelled. Without it the
// store still works; subscriptions just never hear about writes from
// other nodes.
func (s *DocStore) Start(ctx context.Context) {
	go s.signal.Listen(ctx, s.fanout)
}

func (s *DocStore) fanout(event service.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.query.Collection != event.Collection {
			continue
		}
		if sub.query.DocID != "" && event.Doc != "" && sub.query.DocID != event.Doc {
			continue
		}
		sub.mark()
	}
}

// mark coalesces: a dirty subscription stays dirty until its worker runs.
func (sub *subscription) mark() {
	select {
	case sub.dirty <- struct{}{}:
	default:
	}
}

func (s *DocStore) Subscribe(ctx context.Context, q store.Query, fn store.SnapshotFunc) (store.CancelFunc, error) {
	sub := &subscription{
		query: q,
		fn:    fn,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	sub.mark()
	go s.pump(ctx, sub)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
	}, nil
}

// pump serializes deliveries for one subscription: re-query, deliver,
// wait for the next dirty mark.
func (s *DocStore) pump(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.dirty:
		}

		snap, err := s.runQuery(ctx, sub.query)

		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(snap, err)
	}
}

func (s *DocStore) runQuery(ctx context.Context, q store.Query) (store.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "DocStore.runQuery")
	defer span.End()

	if q.DocID != "" {
		var row models.Document
		err := s.db.WithContext(ctx).
			Where("collection = ? AND doc_id = ?", q.Collection, q.DocID).
			Take(&row).Error
		if err == gorm.ErrRecordNotFound {
			// an absent document is an empty result, not an error
			return store.Snapshot{}, nil
		}
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "docstore query failed")
		}
		return store.Snapshot{{ID: row.DocID, Data: json.RawMessage(row.Data)}}, nil
	}

	tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return nil, errors.Errorf("invalid filter field %q", f.Field)
		}
		switch f.Field {
		case "userId", "authorId":
			// owner columns are denormalized from the payload
			tx = tx.Where("? = ANY(owners)", fmt.Sprint(f.Value))
		default:
			tx = tx.Where(fmt.Sprintf("data->>'%s' = ?", f.Field), fmt.Sprint(f.Value))
		}
	}
	if q.OrderBy != "" {
		if !fieldPattern.MatchString(q.OrderBy) {
			return nil, errors.Errorf("invalid order field %q", q.OrderBy)
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		tx = tx.Order(fmt.Sprintf("(data->>'%s')::numeric %s NULLS LAST", q.OrderBy, dir))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []models.Document
	if err := tx.Find(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "docstore query failed")
	}

	snap := make(store.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap = append(snap, store.Doc{ID: row.DocID, Data: json.RawMessage(row.Data)})
	}
	return snap, nil
}

func (s *DocStore) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	ctx, span := tracer.Start(ctx, "DocStore.Get")
	defer span.End()

	key := cacheKey(collection, id)
	if s.mc != nil {
		if item, err := s.mc.Get(key); err == nil {
			return store.Doc{ID: id, Data: json.RawMessage(item.Value)}, nil
		}
	}

	var row models.Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return store.Doc{}, domain.NotFoundError{Resource: "document"}
	}
	if err != nil {
		span.RecordError(err)
		return store.Doc{}, errors.Wrap(err, "docstore get failed")
	}

	if s.mc != nil {
		err := s.mc.Set(&memcache.Item{Key: key, Value: []byte(row.Data), Expiration: docCacheTTL})
		if err != nil {
			slog.Warn(
				"Failed to cache document",
				slog.String("key", key),
				slog.String("error", err.Error()),
				slog.String("module", "docstore"),
			)
		}
	}

	return store.Doc{ID: row.DocID, Data: json.RawMessage(row.Data)}, nil
}

func (s *DocStore) Add(ctx context.Context, collection string, value any) (string, error) {
	ctx, span := tracer.Start(ctx, "DocStore.Add")
	defer span.End()

	id := ulid.Make().String()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applySet(tx, collection, id, value)
	}); err != nil {
		span.RecordError(err)
		return "", err
	}

	s.committed(ctx, collection, id)
	return id, nil
}

func (s *DocStore) Set(ctx context.Context, collection, id string, value any) error {
	ctx, span := tracer.Start(ctx, "DocStore.Set")
	defer span.End()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applySet(tx, collection, id, value)
	}); err != nil {
		span.RecordError(err)
		return err
	}

	s.committed(ctx, collection, id)
	return nil
}

func (s *DocStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "DocStore.Update")
	defer span.End()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyUpdate(tx, collection, id, fields)
	}); err != nil {
		span.RecordError(err)
		return err
	}

	s.committed(ctx, collection, id)
	return nil
}

func (s *DocStore) Delete(ctx context.Context, collection, id string) error {
	ctx, span := tracer.Start(ctx, "DocStore.Delete")
	defer span.End()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyDelete(tx, collection, id)
	}); err != nil {
		span.RecordError(err)
		return err
	}

	s.committed(ctx, collection, id)
	return nil
}

// Batch commits every write in one transaction. Either all of them land
// or none do.
func (s *DocStore) Batch(ctx context.Context, writes []store.Write) error {
	ctx, span := tracer.Start(ctx, "DocStore.Batch")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			var err error
			switch w.Kind {
			case store.WriteSet:
				err = applySet(tx, w.Collection, w.ID, w.Value)
			case store.WriteCreate:
				err = applyCreate(tx, w.Collection, w.ID, w.Value)
			case store.WriteUpdate:
				err = applyUpdate(tx, w.Collection, w.ID, w.Fields)
			case store.WriteDelete:
				err = applyDelete(tx, w.Collection, w.ID)
			default:
				err = errors.Errorf("unknown write kind %d", w.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, w := range writes {
		s.committed(ctx, w.Collection, w.ID)
	}
	return nil
}

func applySet(tx *gorm.DB, collection, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "docstore marshal failed")
	}

	row := models.Document{
		Collection: collection,
		DocID:      id,
		Data:       string(data),
		Owners:     pq.StringArray(ownersOf(data)),
		MDate:      time.Now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "owners", "m_date"}),
	}).Create(&row).Error
}

// applyCreate inserts and never overwrites. A conflicting row fails the
// enclosing transaction with store.ErrExists.
func applyCreate(tx *gorm.DB, collection, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "docstore marshal failed")
	}

	row := models.Document{
		Collection: collection,
		DocID:      id,
		Data:       string(data),
		Owners:     pq.StringArray(ownersOf(data)),
		MDate:      time.Now(),
	}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrExists
	}
	return nil
}

func applyUpdate(tx *gorm.DB, collection, id string, fields map[string]any) error {
	var row models.Document
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("collection = ? AND doc_id = ?", collection, id).
		Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.NotFoundError{Resource: "document"}
	}
	if err != nil {
		return errors.Wrap(err, "docstore lock failed")
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(row.Data), &doc); err != nil {
		return errors.Wrap(err, "docstore decode failed")
	}
	if err := store.ApplyUpdate(doc, fields); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "docstore marshal failed")
	}

	return tx.Model(&models.Document{}).
		Where("collection = ? AND doc_id = ?", collection, id).
		Updates(map[string]any{
			"data":   string(data),
			"owners": pq.StringArray(ownersOf(data)),
			"m_date": time.Now(),
		}).Error
}

func applyDelete(tx *gorm.DB, collection, id string) error {
	return tx.Delete(&models.Document{}, "collection = ? AND doc_id = ?", collection, id).Error
}

// committed runs after a successful transaction: drop the look-aside
// entry, wake local subscriptions, then tell other nodes. Signal failure
// is logged, not returned; the local state is already consistent.
func (s *DocStore) committed(ctx context.Context, collection, id string) {
	if s.mc != nil {
		err := s.mc.Delete(cacheKey(collection, id))
		if err != nil && err != memcache.ErrCacheMiss {
			slog.Warn(
				"Failed to invalidate document cache",
				slog.String("key", cacheKey(collection, id)),
				slog.String("error", err.Error()),
				slog.String("module", "docstore"),
			)
		}
	}

	event := service.ChangeEvent{Collection: collection, Doc: id}
	s.fanout(event)

	if s.signal != nil {
		if err := s.signal.Publish(ctx, event); err != nil {
			slog.Warn(
				"Failed to publish change event",
				slog.String("collection", collection),
				slog.String("error", err.Error()),
				slog.String("module", "docstore"),
			)
		}
	}
}

func cacheKey(collection, id string) string {
	return "doc:" + collection + ":" + id
}

// ownersOf pulls the author and user ids out of a payload so ownership
// queries can hit the denormalized column.
func ownersOf(data []byte) []string {
	var probe struct {
		AuthorID string `json:"authorId"`
		UserID   string `json:"userId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	var owners []string
	if probe.AuthorID != "" {
		owners = append(owners, probe.AuthorID)
	}
	if probe.UserID != "" && probe.UserID != probe.AuthorID {
		owners = append(owners, probe.UserID)
	}
	return owners
}
