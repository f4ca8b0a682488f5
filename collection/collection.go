// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package collection implements the in-memory, schema-validated,
// typed view over the Resource/Document CRDT core. A Collection owns
// one id-keyed map of resources, stamps every mutation through a
// shared clock, validates values through a Validator collaborator,
// and fans out batched mutation events to subscribers through a
// notify.Queue, so no batch is ever dropped for a slow listener.
package collection

import (
	"encoding/json"
	"sync"

	"github.com/byearlybird/starling/clock"
	"github.com/byearlybird/starling/document"
	"github.com/byearlybird/starling/internal/notify"
	"github.com/byearlybird/starling/resource"
	"github.com/byearlybird/starling/validate"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrDuplicateID is returned by Add when the id is already present.
var ErrDuplicateID = errors.New("duplicate resource id")

// ErrNotFound is returned by Update and Remove when the id is absent.
var ErrNotFound = errors.New("resource not found")

// ValidationError wraps the Issues a Validator returned when rejecting
// a value.
type ValidationError struct {
	Issues []validate.Issue
}

func (e *ValidationError) Error() string {
	return errors.Errorf("validation failed with %d issue(s)", len(e.Issues)).Error()
}

// IsValidationError reports whether err is (or wraps) a *ValidationError,
// mirroring the teacher's IsLeaseBusy helper shape in internal/types.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Added describes a resource that came into existence in a Batch.
type Added[T any] struct {
	ID    string
	After T
}

// Updated describes a resource whose attributes changed in a Batch.
type Updated[T any] struct {
	ID            string
	Before, After T
}

// Removed describes a resource tombstoned in a Batch.
type Removed[T any] struct {
	ID     string
	Before T
}

// Batch is the unit of mutation-event delivery: everything that
// changed since the last flush.
type Batch[T any] struct {
	Added   []Added[T]
	Updated []Updated[T]
	Removed []Removed[T]
}

// IsEmpty reports whether the batch carries no changes at all.
func (b Batch[T]) IsEmpty() bool {
	return len(b.Added) == 0 && len(b.Updated) == 0 && len(b.Removed) == 0
}

func (b *Batch[T]) merge(other Batch[T]) {
	b.Added = append(b.Added, other.Added...)
	b.Updated = append(b.Updated, other.Updated...)
	b.Removed = append(b.Removed, other.Removed...)
}

// core carries the pieces of a Collection's configuration that a
// Staged clone also needs: the resource Type label, the shared clock,
// the schema Validator, and the id-extraction function. Factoring it
// out lets Collection and Staged share one implementation of
// add/update/remove against whichever resource map they each hold.
type core[T any] struct {
	typ       string
	clock     *clock.HLC
	validator validate.Validator
	idOf      func(T) string
}

func (k core[T]) validate(value T) (T, error) {
	out, issues := k.validator.Validate(value)
	if len(issues) > 0 {
		return value, errors.WithStack(&ValidationError{Issues: issues})
	}
	typed, ok := out.(T)
	if !ok {
		return value, nil
	}
	return typed, nil
}

// add validates value and inserts it into resources, returning the
// Added event to fold into a Batch.
func (k core[T]) add(resources map[string]resource.Resource, value T) (Added[T], error) {
	id := k.idOf(value)
	validated, err := k.validate(value)
	if err != nil {
		return Added[T]{}, err
	}

	if _, exists := resources[id]; exists {
		log.WithFields(log.Fields{"collection": k.typ, "id": id}).Debug("rejecting duplicate id")
		return Added[T]{}, errors.Wrapf(ErrDuplicateID, "id %q", id)
	}

	attrs, err := toAttributes(validated)
	if err != nil {
		return Added[T]{}, err
	}
	r, err := resource.Make(k.typ, id, attrs, k.clock.Now(), nil)
	if err != nil {
		return Added[T]{}, err
	}
	resources[id] = r
	return Added[T]{ID: id, After: validated}, nil
}

// update validates newValue and merges it into the existing resource
// under id, returning the Updated event to fold into a Batch.
func (k core[T]) update(resources map[string]resource.Resource, id string, newValue T) (Updated[T], error) {
	validated, err := k.validate(newValue)
	if err != nil {
		return Updated[T]{}, err
	}

	existing, ok := resources[id]
	if !ok || existing.IsDeleted() {
		return Updated[T]{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	before, err := fromAttributes[T](existing.Attributes)
	if err != nil {
		return Updated[T]{}, err
	}

	attrs, err := toAttributes(validated)
	if err != nil {
		return Updated[T]{}, err
	}
	incoming, err := resource.Make(k.typ, id, attrs, k.clock.Now(), nil)
	if err != nil {
		return Updated[T]{}, err
	}

	merged, err := resource.Merge(existing, incoming)
	if err != nil {
		return Updated[T]{}, err
	}
	resources[id] = merged

	after, err := fromAttributes[T](merged.Attributes)
	if err != nil {
		return Updated[T]{}, err
	}
	return Updated[T]{ID: id, Before: before, After: after}, nil
}

// remove tombstones the resource under id, returning the Removed
// event to fold into a Batch.
func (k core[T]) remove(resources map[string]resource.Resource, id string) (Removed[T], error) {
	existing, ok := resources[id]
	if !ok || existing.IsDeleted() {
		return Removed[T]{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	before, err := fromAttributes[T](existing.Attributes)
	if err != nil {
		return Removed[T]{}, err
	}
	resources[id] = resource.Delete(existing, k.clock.Now())
	return Removed[T]{ID: id, Before: before}, nil
}

// Collection is a typed, schema-validated view over a set of
// resources sharing one Type label. The zero value is not usable;
// create one with New.
type Collection[T any] struct {
	mu sync.Mutex

	core[T]

	resources map[string]resource.Resource
	mutations *notify.Queue[Batch[T]]

	autoFlush bool
	pending   Batch[T]
}

// New creates an empty Collection. typ labels every Resource this
// collection produces; idOf extracts the application-level id from a
// value of T.
func New[T any](typ string, clk *clock.HLC, validator validate.Validator, idOf func(T) string) *Collection[T] {
	if validator == nil {
		validator = validate.Nop
	}
	return &Collection[T]{
		core:      core[T]{typ: typ, clock: clk, validator: validator, idOf: idOf},
		resources: make(map[string]resource.Resource),
		mutations: notify.NewQueue[Batch[T]](),
		autoFlush: true,
	}
}

// SetAutoFlush toggles whether mutations are emitted immediately
// (true, the default) or accumulated until an explicit Flush call.
func (c *Collection[T]) SetAutoFlush(autoFlush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoFlush = autoFlush
}

// Flush emits any accumulated pending mutations as a single Batch and
// clears the accumulator. It is a no-op if nothing is pending.
func (c *Collection[T]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Collection[T]) flushLocked() {
	if c.pending.IsEmpty() {
		return
	}
	c.mutations.Push(c.pending)
	c.pending = Batch[T]{}
}

func (c *Collection[T]) emitLocked(b Batch[T]) {
	if b.IsEmpty() {
		return
	}
	if c.autoFlush {
		c.mutations.Push(b)
		return
	}
	c.pending.merge(b)
}

// Summary is the type-erased shape of a Batch: just the affected ids,
// with no dependency on the collection's value type T. Database uses
// this to fan mutation events out to plugins that don't know (and
// shouldn't need to know) any collection's concrete attribute type.
type Summary struct {
	AddedIDs   []string
	UpdatedIDs []string
	RemovedIDs []string
}

// IsEmpty reports whether the summary carries no changes.
func (s Summary) IsEmpty() bool {
	return len(s.AddedIDs) == 0 && len(s.UpdatedIDs) == 0 && len(s.RemovedIDs) == 0
}

func summaryOf[T any](b Batch[T]) Summary {
	var s Summary
	for _, a := range b.Added {
		s.AddedIDs = append(s.AddedIDs, a.ID)
	}
	for _, u := range b.Updated {
		s.UpdatedIDs = append(s.UpdatedIDs, u.ID)
	}
	for _, r := range b.Removed {
		s.RemovedIDs = append(s.RemovedIDs, r.ID)
	}
	return s
}

// Handle is the type-erased view of a Collection[T] that Database
// stores in its registry and hands to plugins: every Collection[T]
// satisfies this structurally, regardless of T.
type Handle interface {
	ToDocument() document.Document
	Merge(doc document.Document) (document.Changes, error)
	OnSummary(handler func(Summary)) (unsubscribe func())
	// Begin starts a staged, copy-on-write transaction against this
	// collection and returns it as *Staged[T] boxed in an any; callers
	// recover the concrete type with a type assertion (see the
	// database package's Staged helper).
	Begin() any
}

// OnSummary is On's type-erased counterpart, used internally by
// Database to re-emit mutation events without depending on T.
func (c *Collection[T]) OnSummary(handler func(Summary)) (unsubscribe func()) {
	return c.On(func(b Batch[T]) { handler(summaryOf(b)) })
}

// On subscribes handler to every non-empty Batch this collection
// emits, starting from the next one. Every batch is delivered, in
// order; none are coalesced for a slow subscriber. The returned
// unsubscribe stops delivery; it does not block on any in-flight
// handler call.
func (c *Collection[T]) On(handler func(Batch[T])) (unsubscribe func()) {
	return c.mutations.Subscribe(handler)
}

// Get returns the value stored under id. If includeDeleted is false,
// a tombstoned resource is treated as absent. Per this module's
// resolution of the spec's open question, the tombstone marker itself
// is never exposed — only attributes are returned.
func (c *Collection[T]) Get(id string, includeDeleted bool) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getFrom[T](c.resources, id, includeDeleted, c.typ)
}

// GetAll returns every value in the collection, in unspecified order.
func (c *Collection[T]) GetAll(includeDeleted bool) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getAllFrom[T](c.resources, includeDeleted)
}

// Find returns every value for which predicate reports true.
func (c *Collection[T]) Find(includeDeleted bool, predicate func(T) bool) []T {
	var out []T
	for _, v := range c.GetAll(includeDeleted) {
		if predicate(v) {
			out = append(out, v)
		}
	}
	return out
}

// Add inserts a new value, failing with ErrDuplicateID if its id is
// already present and with a *ValidationError if the Validator
// rejects it.
func (c *Collection[T]) Add(value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	added, err := c.core.add(c.resources, value)
	if err != nil {
		return err
	}
	c.emitLocked(Batch[T]{Added: []Added[T]{added}})
	return nil
}

// Update merges newValue's attributes into the existing resource
// under id, field by field, stamping every leaf of newValue with a
// fresh eventstamp. It fails with ErrNotFound if id is absent or
// tombstoned.
func (c *Collection[T]) Update(id string, newValue T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated, err := c.core.update(c.resources, id, newValue)
	if err != nil {
		return err
	}
	c.emitLocked(Batch[T]{Updated: []Updated[T]{updated}})
	return nil
}

// Remove tombstones the resource under id. It fails with ErrNotFound
// if id is absent or already tombstoned.
func (c *Collection[T]) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, err := c.core.remove(c.resources, id)
	if err != nil {
		return err
	}
	c.emitLocked(Batch[T]{Removed: []Removed[T]{removed}})
	return nil
}

// ToDocument snapshots every resource (including tombstoned ones)
// into a document.Document, with Meta.Latest taken from the shared
// clock's Latest() (or a resource's Latest, if one is greater), per
// this module's resolution of the spec's open question on what a
// collection export's summary eventstamp means.
func (c *Collection[T]) ToDocument() document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toDocumentLocked()
}

func (c *Collection[T]) toDocumentLocked() document.Document {
	resources := make([]resource.Resource, 0, len(c.resources))
	for _, r := range c.resources {
		resources = append(resources, r)
	}
	return document.New(resources, c.clock.Latest())
}

// Merge folds an incoming document into this collection, forwarding
// the shared clock past the document's Meta.Latest and emitting one
// Batch classifying every change. Every added or updated value is
// run through the Validator first; if any is rejected, Merge returns
// the *ValidationError and leaves the collection unchanged. It is the
// collection-level counterpart of document.Merge.
func (c *Collection[T]) Merge(doc document.Document) (document.Changes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := c.toDocumentLocked()
	merged, changes, err := document.Merge(local, doc)
	if err != nil {
		return document.Changes{}, err
	}
	for _, group := range []map[string]resource.Resource{changes.Added, changes.Updated} {
		for _, r := range group {
			v, err := fromAttributes[T](r.Attributes)
			if err != nil {
				return document.Changes{}, err
			}
			if _, err := c.core.validate(v); err != nil {
				return document.Changes{}, err
			}
		}
	}
	c.clock.Forward(doc.Meta.Latest)

	previous := c.resources
	c.resources = make(map[string]resource.Resource, len(merged.Data))
	for _, r := range merged.Data {
		c.resources[r.ID] = r
	}

	batch, err := changesToBatch[T](changes)
	if err != nil {
		return document.Changes{}, err
	}
	for i, u := range batch.Updated {
		before, err := fromAttributes[T](previous[u.ID].Attributes)
		if err != nil {
			return document.Changes{}, err
		}
		batch.Updated[i].Before = before
	}
	c.emitLocked(batch)
	return changes, nil
}

// Begin starts a staged, copy-on-write clone of this collection for
// use inside a database.Database transaction. Mutations against the
// returned Staged are invisible to the live collection until Commit
// is called. Begin clones the current resource map once; callers
// should keep the resulting Staged short-lived.
func (c *Collection[T]) Begin() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	cloned := make(map[string]resource.Resource, len(c.resources))
	for id, r := range c.resources {
		cloned[id] = r
	}
	return &Staged[T]{parent: c, core: c.core, resources: cloned}
}

// Staged is a copy-on-write clone of a Collection, used by
// database.Database's transactions. It supports Collection's Get,
// GetAll, Add, Update and Remove (not Find, Merge, ToDocument or On),
// and its writes only become visible to the parent
// Collection (and its subscribers) when Commit is called.
type Staged[T any] struct {
	parent *Collection[T]
	core   core[T]

	resources map[string]resource.Resource
	pending   Batch[T]
}

// Get reads from the staged state, per the same includeDeleted
// semantics as Collection.Get.
func (s *Staged[T]) Get(id string, includeDeleted bool) (T, bool) {
	return getFrom[T](s.resources, id, includeDeleted, s.core.typ)
}

// GetAll reads every value from the staged state.
func (s *Staged[T]) GetAll(includeDeleted bool) []T {
	return getAllFrom[T](s.resources, includeDeleted)
}

// Add stages an insert; it is not visible to the parent Collection
// until Commit.
func (s *Staged[T]) Add(value T) error {
	added, err := s.core.add(s.resources, value)
	if err != nil {
		return err
	}
	s.pending.merge(Batch[T]{Added: []Added[T]{added}})
	return nil
}

// Update stages a merge against the existing resource under id.
func (s *Staged[T]) Update(id string, newValue T) error {
	updated, err := s.core.update(s.resources, id, newValue)
	if err != nil {
		return err
	}
	s.pending.merge(Batch[T]{Updated: []Updated[T]{updated}})
	return nil
}

// Remove stages a tombstone for the resource under id.
func (s *Staged[T]) Remove(id string) error {
	removed, err := s.core.remove(s.resources, id)
	if err != nil {
		return err
	}
	s.pending.merge(Batch[T]{Removed: []Removed[T]{removed}})
	return nil
}

// Commit swaps the staged resource map into the parent Collection and
// flushes the accumulated pending Batch through the parent's live
// mutation stream, so subscribers registered before the transaction
// began observe the change. Calling Commit more than once re-applies
// the same staged map; the pending batch is already empty by then, so
// nothing further is emitted.
func (s *Staged[T]) Commit() {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()

	s.parent.resources = s.resources
	s.parent.emitLocked(s.pending)
	s.pending = Batch[T]{}
}

func getFrom[T any](resources map[string]resource.Resource, id string, includeDeleted bool, typ string) (T, bool) {
	r, ok := resources[id]
	if !ok {
		var zero T
		return zero, false
	}
	if r.IsDeleted() && !includeDeleted {
		var zero T
		return zero, false
	}
	value, err := fromAttributes[T](r.Attributes)
	if err != nil {
		log.WithFields(log.Fields{"collection": typ, "id": id}).WithError(err).Warn("decode failed")
		var zero T
		return zero, false
	}
	return value, true
}

func getAllFrom[T any](resources map[string]resource.Resource, includeDeleted bool) []T {
	out := make([]T, 0, len(resources))
	for _, r := range resources {
		if r.IsDeleted() && !includeDeleted {
			continue
		}
		value, err := fromAttributes[T](r.Attributes)
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out
}

func changesToBatch[T any](changes document.Changes) (Batch[T], error) {
	var b Batch[T]
	for id, r := range changes.Added {
		v, err := fromAttributes[T](r.Attributes)
		if err != nil {
			return Batch[T]{}, err
		}
		b.Added = append(b.Added, Added[T]{ID: id, After: v})
	}
	for id, r := range changes.Updated {
		v, err := fromAttributes[T](r.Attributes)
		if err != nil {
			return Batch[T]{}, err
		}
		b.Updated = append(b.Updated, Updated[T]{ID: id, After: v})
	}
	for id, r := range changes.Deleted {
		v, err := fromAttributes[T](r.Attributes)
		if err != nil {
			return Batch[T]{}, err
		}
		b.Removed = append(b.Removed, Removed[T]{ID: id, Before: v})
	}
	return b, nil
}

func toAttributes(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encoding attributes")
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, errors.Wrap(err, "decoding attributes")
	}
	return attrs, nil
}

func fromAttributes[T any](attrs map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(attrs)
	if err != nil {
		return out, errors.Wrap(err, "encoding attributes")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, "decoding attributes")
	}
	return out, nil
}
