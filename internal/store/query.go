package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

type op int

const (
	opEq op = iota
	opMatch
)

// Condition is one field predicate of a Filter.
type Condition struct {
	Field string
	Value string
	op    op
}

// Eq matches documents whose field equals value. For array fields any
// element may match.
func Eq(field, value string) Condition {
	return Condition{Field: field, Value: value, op: opEq}
}

// Match matches documents whose field matches pattern, case-insensitively.
// For array fields any element may match.
func Match(field, pattern string) Condition {
	return Condition{Field: field, Value: pattern, op: opMatch}
}

// Filter is a conjunction of conditions. An empty Filter matches everything.
type Filter []Condition

// Projection lists the fields to keep. Empty keeps all fields.
type Projection []string

// FindOptions bounds a query.
type FindOptions struct {
	Limit int // 0 means no limit
}

type compiled struct {
	Condition
	re *regexp.Regexp
}

func (f Filter) compile() ([]compiled, error) {
	out := make([]compiled, len(f))
	for i, c := range f {
		out[i].Condition = c
		if c.op == opMatch {
			re, err := regexp.Compile("(?i)" + c.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for %s: %w", c.Field, err)
			}
			out[i].re = re
		}
	}
	return out, nil
}

func (c compiled) matches(doc map[string]any) bool {
	for _, v := range fieldValues(doc[c.Field]) {
		switch c.op {
		case opEq:
			if v == c.Value {
				return true
			}
		case opMatch:
			if c.re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

// fieldValues flattens a decoded JSON value into comparable strings.
func fieldValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(t)}
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, fieldValues(e)...)
		}
		return out
	default:
		return nil
	}
}

// Find returns documents of m matching filter, in primary key order.
func (m *Model) Find(ctx context.Context, filter Filter, proj Projection, opts FindOptions) ([]map[string]any, error) {
	conds, err := filter.compile()
	if err != nil {
		return nil, err
	}

	ids, err := m.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(m.schema.Entity, id)
	}
	raw, err := m.conn.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("loading %s documents: %w", m.schema.Entity, err)
	}

	var out []map[string]any
	for i, s := range raw {
		if s == "" {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keys[i], err)
		}
		if !matchAll(conds, doc) {
			continue
		}
		out = append(out, project(doc, proj))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// candidates narrows the id set with the primary key or an index when the
// filter has an equality on one.
func (m *Model) candidates(ctx context.Context, filter Filter) ([]string, error) {
	for _, c := range filter {
		if c.op == opEq && c.Field == m.schema.Key {
			return []string{c.Value}, nil
		}
	}

	key := idsKey(m.schema.Entity)
	for _, c := range filter {
		if c.op == opEq && m.schema.indexed(c.Field) {
			key = indexKey(m.schema.Entity, c.Field, c.Value)
			break
		}
	}
	ids, err := m.conn.SMembers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func matchAll(conds []compiled, doc map[string]any) bool {
	for _, c := range conds {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func project(doc map[string]any, proj Projection) map[string]any {
	if len(proj) == 0 {
		return doc
	}
	out := make(map[string]any, len(proj))
	for _, f := range proj {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Insert writes docs and their index entries. Each doc must encode to a
// JSON object carrying the schema key.
func (m *Model) Insert(ctx context.Context, docs ...any) error {
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encoding %s document: %w", m.schema.Entity, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("%s document is not an object: %w", m.schema.Entity, err)
		}
		keys := fieldValues(doc[m.schema.Key])
		if len(keys) != 1 || keys[0] == "" {
			return fmt.Errorf("%s document missing %q", m.schema.Entity, m.schema.Key)
		}
		id := keys[0]

		if err := m.conn.Set(ctx, docKey(m.schema.Entity, id), string(b)); err != nil {
			return fmt.Errorf("writing %s %s: %w", m.schema.Entity, id, err)
		}
		if err := m.conn.SAdd(ctx, idsKey(m.schema.Entity), id); err != nil {
			return fmt.Errorf("indexing %s %s: %w", m.schema.Entity, id, err)
		}
		for _, field := range m.schema.Indexes {
			for _, v := range fieldValues(doc[field]) {
				if err := m.conn.SAdd(ctx, indexKey(m.schema.Entity, field, v), id); err != nil {
					return fmt.Errorf("indexing %s %s on %s: %w", m.schema.Entity, id, field, err)
				}
			}
		}
	}
	return nil
}

// Get loads a single document by primary key.
func (m *Model) Get(ctx context.Context, id string) (map[string]any, error) {
	s, err := m.conn.Get(ctx, docKey(m.schema.Entity, id))
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", m.schema.Entity, id, err)
	}
	return doc, nil
}

// Find runs a query on entity and decodes each document into T.
func Find[T any](ctx context.Context, s *Store, entity string, filter Filter, proj Projection, opts FindOptions) ([]T, error) {
	m, err := s.Model(ctx, entity)
	if err != nil {
		return nil, err
	}
	docs, err := m.Find(ctx, filter, proj, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", entity, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert writes docs into entity.
func Insert(ctx context.Context, s *Store, entity string, docs ...any) error {
	m, err := s.Model(ctx, entity)
	if err != nil {
		return err
	}
	return m.Insert(ctx, docs...)
}

// IsNotFound reports whether err means a lookup found nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrCardNotFound)
}
