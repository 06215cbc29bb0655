package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"go.uber.org/zap"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/queryir"
)

// writeFunc applies one statement inside tx. It returns the ids the
// statement matched and the changes it made; seq is the value the batch
// will carry if it commits.
type writeFunc func(ctx context.Context, tx *sql.Tx, seq int64) (affected []string, changes []ir.Change, err error)

// Execute runs one statement.
//
// Select returns the matching rows. Insert, Update and Evict run in a
// transaction; if at least one row changed, the commit takes the next
// clock value and is published as one change batch.
func (s *Store) Execute(ctx context.Context, stmt queryir.Statement, params ir.IRObject) (Result, error) {
	op := opName(stmt)
	if s.closed.Load() {
		return Result{}, &StoreError{Op: op, Err: ErrClosed}
	}
	if err := queryir.ValidateStatement(stmt, params); err != nil {
		return Result{}, &StoreError{Op: op, Collection: collectionOf(stmt), Err: err}
	}

	switch st := stmt.(type) {
	case queryir.Select:
		docs, err := s.queryDocs(ctx, st, params)
		if err != nil {
			return Result{}, &StoreError{Op: op, Collection: st.Collection, Err: err}
		}
		return Result{Seq: s.clock.Current(), Documents: docs}, nil
	case queryir.Insert:
		return s.write(ctx, op, st.Collection, func(ctx context.Context, tx *sql.Tx, seq int64) ([]string, []ir.Change, error) {
			return s.insert(ctx, tx, seq, st)
		})
	case queryir.Update:
		return s.write(ctx, op, st.Collection, func(ctx context.Context, tx *sql.Tx, seq int64) ([]string, []ir.Change, error) {
			return s.update(ctx, tx, seq, st, params)
		})
	case queryir.Evict:
		return s.write(ctx, op, st.Collection, func(ctx context.Context, tx *sql.Tx, seq int64) ([]string, []ir.Change, error) {
			return s.evict(ctx, tx, st, params)
		})
	default:
		return Result{}, &StoreError{Op: op, Err: fmt.Errorf("unsupported statement %T", stmt)}
	}
}

// PutRaw stores body verbatim under (collection, id), replacing any
// existing row. It bypasses encoding, so import and repair tooling can load
// records exactly as they were exported, corrupt ones included.
func (s *Store) PutRaw(ctx context.Context, collection, id string, body []byte) (Result, error) {
	if s.closed.Load() {
		return Result{}, &StoreError{Op: "put", Err: ErrClosed}
	}
	if collection == "" || id == "" {
		return Result{}, &StoreError{Op: "put", Collection: collection, Err: fmt.Errorf("collection and id are required")}
	}
	return s.write(ctx, "put", collection, func(ctx context.Context, tx *sql.Tx, seq int64) ([]string, []ir.Change, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, seq)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, seq = excluded.seq
		`, collection, id, string(body), seq)
		if err != nil {
			return nil, nil, fmt.Errorf("put %s: %w", id, err)
		}
		return []string{id}, []ir.Change{{ID: id, Kind: ir.ChangeUpdate}}, nil
	})
}

// write runs fn in a transaction and publishes its batch.
func (s *Store) write(ctx context.Context, op, collection string, fn writeFunc) (Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, &StoreError{Op: op, Collection: collection, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	// writeMu makes this the value Next returns below.
	seq := s.clock.Current() + 1

	affected, changes, err := fn(ctx, tx, seq)
	if err != nil {
		return Result{}, &StoreError{Op: op, Collection: collection, Err: err}
	}
	if len(changes) == 0 {
		return Result{Seq: s.clock.Current(), Affected: affected}, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clock (id, seq) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET seq = excluded.seq
	`, seq); err != nil {
		return Result{}, &StoreError{Op: op, Collection: collection, Err: fmt.Errorf("advance clock: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, &StoreError{Op: op, Collection: collection, Err: fmt.Errorf("commit: %w", err)}
	}
	s.clock.Next()

	s.hub.Publish(ir.ChangeBatch{Seq: seq, Collection: collection, Changes: changes})
	s.logger.Debug("batch committed",
		zap.String("op", op),
		zap.String("collection", collection),
		zap.Int64("seq", seq),
		zap.Int("changes", len(changes)))

	return Result{Seq: seq, Affected: affected}, nil
}

// insert uses ON CONFLICT DO NOTHING: inserting an existing id changes
// nothing and reports no affected ids.
func (s *Store) insert(ctx context.Context, tx *sql.Tx, seq int64, st queryir.Insert) ([]string, []ir.Change, error) {
	raw, err := ir.NewRawDocument(st.ID, st.Fields)
	if err != nil {
		return nil, nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING
	`, st.Collection, raw.ID, string(raw.Body), seq)
	if err != nil {
		return nil, nil, fmt.Errorf("insert %s: %w", st.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("insert %s: %w", st.ID, err)
	}
	if n == 0 {
		return nil, nil, nil
	}
	return []string{st.ID}, []ir.Change{{ID: st.ID, Kind: ir.ChangeInsert}}, nil
}

// update merges the patch into every matching row. Rows whose canonical
// body does not change are left untouched.
func (s *Store) update(ctx context.Context, tx *sql.Tx, seq int64, st queryir.Update, params ir.IRObject) ([]string, []ir.Change, error) {
	patch, err := ir.MarshalCanonical(st.Patch)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}

	query, args, err := s.compiler.CompileSelect(queryir.Select{Collection: st.Collection, Where: st.Where}, params)
	if err != nil {
		return nil, nil, err
	}
	matches, err := scanDocuments(tx.QueryContext(ctx, query, args...))
	if err != nil {
		return nil, nil, err
	}

	affected := make([]string, 0, len(matches))
	var changes []ir.Change
	for _, doc := range matches {
		affected = append(affected, doc.ID)

		body, err := MergeBody(doc.Body, patch)
		if err != nil {
			return nil, nil, fmt.Errorf("update %s: %w", doc.ID, err)
		}
		if bytes.Equal(body, doc.Body) {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET body = ?, seq = ?
			WHERE collection = ? AND id = ?
		`, string(body), seq, st.Collection, doc.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("update %s: %w", doc.ID, err)
		}
		changes = append(changes, ir.Change{ID: doc.ID, Kind: ir.ChangeUpdate})
	}
	return affected, changes, nil
}

func (s *Store) evict(ctx context.Context, tx *sql.Tx, st queryir.Evict, params ir.IRObject) ([]string, []ir.Change, error) {
	query, args, err := s.compiler.CompileIDs(st.Collection, st.Where, params)
	if err != nil {
		return nil, nil, err
	}
	ids, err := scanIDs(tx.QueryContext(ctx, query, args...))
	if err != nil {
		return nil, nil, err
	}

	changes := make([]ir.Change, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, st.Collection, id); err != nil {
			return nil, nil, fmt.Errorf("evict %s: %w", id, err)
		}
		changes = append(changes, ir.Change{ID: id, Kind: ir.ChangeEvict})
	}
	return ids, changes, nil
}

func (s *Store) queryDocs(ctx context.Context, sel queryir.Select, params ir.IRObject) ([]ir.RawDocument, error) {
	query, args, err := s.compiler.CompileSelect(sel, params)
	if err != nil {
		return nil, err
	}
	return scanDocuments(s.db.QueryContext(ctx, query, args...))
}

// MergeBody applies an RFC 7386 merge patch to a stored body and returns
// the canonical result. Nested objects such as tag maps merge key by key.
func MergeBody(body, patch []byte) ([]byte, error) {
	merged, err := jsonpatch.MergePatch(body, patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch: %w", err)
	}
	v, err := ir.UnmarshalIRValue(merged)
	if err != nil {
		return nil, fmt.Errorf("decode merged body: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("merged body is %T, not an object", v)
	}
	return ir.MarshalCanonical(obj)
}

// scanDocuments drains (id, body) rows. It takes the QueryContext results
// directly so call sites stay one line.
func scanDocuments(rows *sql.Rows, err error) ([]ir.RawDocument, error) {
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []ir.RawDocument{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, ir.RawDocument{ID: id, Body: []byte(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func scanIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func opName(stmt queryir.Statement) string {
	switch stmt.(type) {
	case queryir.Select:
		return "select"
	case queryir.Insert:
		return "insert"
	case queryir.Update:
		return "update"
	case queryir.Evict:
		return "evict"
	default:
		return "execute"
	}
}

func collectionOf(stmt queryir.Statement) string {
	if stmt == nil {
		return ""
	}
	return stmt.CollectionName()
}
