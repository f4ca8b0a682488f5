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

package database

import (
	"github.com/byearlybird/starling/collection"
	"github.com/pkg/errors"
)

// committable is satisfied by every *collection.Staged[T] regardless
// of T, letting Tx commit every collection touched during a
// transaction without needing to know their concrete types.
type committable interface {
	Commit()
}

// Tx is the unit of work passed to a Database.Begin callback. It
// lazily stages a copy-on-write clone of each collection the callback
// touches (via the package-level Staged helper) and commits every
// staged clone, in the order first touched, once the callback returns
// without error.
type Tx struct {
	db           *Database
	stagedByName map[string]any
	order        []string
}

func newTx(db *Database) *Tx {
	return &Tx{db: db, stagedByName: make(map[string]any)}
}

// ErrRollback is the sentinel a Begin callback returns from Rollback.
// It reaches the caller of Begin unchanged; Tx otherwise has no
// rollback effect to trigger, since every staged clone is already
// discarded whenever fn returns a non-nil error.
var ErrRollback = errors.New("transaction rolled back")

// Rollback returns ErrRollback for the callback to return immediately
// (`return tx.Rollback()`), giving Begin callbacks an explicit
// rollback() call to reach for instead of having to mint their own
// sentinel error. Rollback itself records nothing on tx: the staged
// collections are discarded because the callback returns a non-nil
// error, and a callback that calls Rollback but then returns nil is
// committed as usual.
func (tx *Tx) Rollback() error {
	return ErrRollback
}

// Staged returns the transaction-scoped, copy-on-write view of the
// named collection, lazily staging it (cloning its current resource
// map) on first access within this Tx. Subsequent calls for the same
// name within the same Tx return the same Staged instance. T must
// match the concrete attribute type the collection was created with.
func Staged[T any](tx *Tx, name string) (*collection.Staged[T], error) {
	if cached, ok := tx.stagedByName[name]; ok {
		staged, ok := cached.(*collection.Staged[T])
		if !ok {
			return nil, errors.Errorf("collection %q already staged in this transaction with a different type", name)
		}
		return staged, nil
	}

	handle, ok := tx.db.Collection(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCollection, "name %q", name)
	}

	staged, ok := handle.Begin().(*collection.Staged[T])
	if !ok {
		return nil, errors.Errorf("collection %q is not of the requested type", name)
	}

	tx.stagedByName[name] = staged
	tx.order = append(tx.order, name)
	return staged, nil
}

// Begin runs fn against a fresh Tx. Every collection touched via
// Staged during fn is committed, in the order first touched, only if
// fn returns nil; any error from fn, including tx.Rollback(), leaves
// every collection untouched — the staged clones are simply
// discarded, giving the transaction snapshot isolation and atomicity.
// This mirrors serial_events.go's OnBegin/OnCommit/OnRollback shape,
// generalized from one pgx.Tx to N staged collection clones.
func (d *Database) Begin(fn func(*Tx) error) error {
	tx := newTx(d)
	if err := fn(tx); err != nil {
		return err
	}
	for _, name := range tx.order {
		tx.stagedByName[name].(committable).Commit()
	}
	return nil
}
