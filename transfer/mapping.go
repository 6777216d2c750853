package transfer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"go.uber.org/zap"
)

type ObjectKind string

const (
	KindCustomActivityType ObjectKind = "custom_activity_type"
	KindCustomField        ObjectKind = "custom_field"
	KindStatus             ObjectKind = "status"
	KindPipeline           ObjectKind = "pipeline"
	KindRole               ObjectKind = "role"
	KindEmailTemplate      ObjectKind = "email_template"
	KindSMSTemplate        ObjectKind = "sms_template"
	KindSequence           ObjectKind = "sequence"
)

// buildOrder is the order kinds are matched in. Custom activity types come first so that
// custom fields owned by an activity type can be matched through the type's mapping.
var buildOrder = []ObjectKind{
	KindCustomActivityType,
	KindCustomField,
	KindStatus,
	KindPipeline,
	KindRole,
	KindEmailTemplate,
	KindSMSTemplate,
	KindSequence,
}

// AllKinds returns every kind the builder knows how to match.
func AllKinds() []ObjectKind {
	return append([]ObjectKind(nil), buildOrder...)
}

// NaturalKey is the field objects of the kind are matched on.
func (k ObjectKind) NaturalKey() string {
	if k == KindStatus {
		return "label"
	}
	return "name"
}

// Mapping translates source organization ids to destination organization ids.
// It is read-only once built.
type Mapping map[string]string

// Resolve returns the destination id for id, or id itself when there is no entry.
func (m Mapping) Resolve(id string) string {
	if to, ok := m[id]; ok {
		return to
	}
	return id
}

func (m Mapping) Lookup(id string) (string, bool) {
	to, ok := m[id]
	return to, ok
}

// With returns a new mapping holding the entries of m and other. Entries of other win.
func (m Mapping) With(other Mapping) Mapping {
	out := make(Mapping, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ObjectSource lists the objects of one kind in one organization.
type ObjectSource interface {
	Objects(ctx context.Context, kind ObjectKind) ([]closeio.Record, error)
}

// Builder matches objects of a source organization to objects of a destination organization
// by their natural key.
type Builder struct {
	from ObjectSource
	to   ObjectSource
	log  *zap.Logger
}

func NewBuilder(from, to ObjectSource, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{from: from, to: to, log: log.Named("mapping")}
}

// Build fetches both object lists of every requested kind and returns a single flat mapping.
// Requesting custom fields implies custom activity types. Any failed fetch aborts the build.
func (b *Builder) Build(ctx context.Context, kinds ...ObjectKind) (Mapping, error) {
	requested := make(map[ObjectKind]bool, len(kinds))
	for _, k := range kinds {
		requested[k] = true
	}
	if requested[KindCustomField] {
		requested[KindCustomActivityType] = true
	}

	m := Mapping{}
	for _, kind := range buildOrder {
		if !requested[kind] {
			continue
		}

		from, err := b.from.Objects(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("fetch source %s list: %w", kind, err)
		}
		to, err := b.to.Objects(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("fetch destination %s list: %w", kind, err)
		}

		before := len(m)
		if kind == KindCustomField {
			b.matchCustomFields(m, from, to)
		} else {
			b.match(m, kind, from, to)
		}
		b.log.Debug("matched objects",
			zap.String("kind", string(kind)),
			zap.Int("source", len(from)),
			zap.Int("destination", len(to)),
			zap.Int("matched", len(m)-before),
		)
	}
	return m, nil
}

func (b *Builder) match(m Mapping, kind ObjectKind, from, to []closeio.Record) {
	key := kind.NaturalKey()
	index := b.index(kind, to, func(r closeio.Record) string { return r.String(key) })

	for _, src := range from {
		if dst, ok := index[src.String(key)]; ok {
			m[src.ID()] = dst
		}
	}
}

// matchCustomFields matches on name and owning schema. The owning schema of a field that
// belongs to a custom activity type is the type's id, so a destination field also matches
// when its object_type is the destination id the source type was mapped to.
func (b *Builder) matchCustomFields(m Mapping, from, to []closeio.Record) {
	for _, src := range from {
		name := src.String("name")
		objectType := src.String("object_type")
		mappedType, hasMappedType := m[objectType]

		var found []string
		for _, dst := range to {
			if dst.String("name") != name {
				continue
			}
			dstType := dst.String("object_type")
			if dstType == objectType || (hasMappedType && dstType == mappedType) {
				found = append(found, dst.ID())
			}
		}
		if len(found) == 0 {
			continue
		}
		if len(found) > 1 {
			b.log.Warn("duplicate custom field name in destination, using first match",
				zap.String("name", name),
				zap.String("object_type", objectType),
				zap.Strings("candidates", found),
			)
		}
		m[src.ID()] = found[0]
	}
}

// index maps natural key to the id of the first destination object carrying it.
func (b *Builder) index(kind ObjectKind, to []closeio.Record, keyFn func(closeio.Record) string) map[string]string {
	index := make(map[string]string, len(to))
	for _, dst := range to {
		k := keyFn(dst)
		if first, ok := index[k]; ok {
			b.log.Warn("duplicate name in destination, using first match",
				zap.String("kind", string(kind)),
				zap.String("key", k),
				zap.String("kept", first),
				zap.String("ignored", dst.ID()),
			)
			continue
		}
		index[k] = dst.ID()
	}
	return index
}

// LazyMapping builds a mapping on first use and hands the same table to every later caller.
type LazyMapping struct {
	once  sync.Once
	build func(ctx context.Context) (Mapping, error)
	m     Mapping
	err   error
	built atomic.Bool
}

func NewLazyMapping(build func(ctx context.Context) (Mapping, error)) *LazyMapping {
	return &LazyMapping{build: build}
}

func (l *LazyMapping) Get(ctx context.Context) (Mapping, error) {
	l.once.Do(func() {
		l.m, l.err = l.build(ctx)
		l.built.Store(true)
	})
	return l.m, l.err
}

// Built reports whether Get has run.
func (l *LazyMapping) Built() bool {
	return l.built.Load()
}
