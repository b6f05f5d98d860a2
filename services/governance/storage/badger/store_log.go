// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// =============================================================================
// Behavior change log
// =============================================================================

// logKey formats a time-ordered log key: zero-padded unix nanoseconds
// plus the entry ID for uniqueness within a nanosecond.
func logKey(e *datatypes.BehaviorChangeLogEntry) string {
	return fmt.Sprintf("%s%020d/%s", prefixLog, e.Timestamp.UnixNano(), e.ID)
}

// AppendLogEntry writes one immutable change log entry. Existing entries
// are never touched; a duplicate ID is rejected.
func (s *Store) AppendLogEntry(e *datatypes.BehaviorChangeLogEntry) error {
	return s.db.Update(func(txn *badger.Txn) error {
		ixKey := prefixLogIndex + e.ID
		ok, err := exists(txn, ixKey)
		if err != nil {
			return err
		}
		if ok {
			return datatypes.NewValidationError("id", "log entry already exists")
		}
		key := logKey(e)
		if err := setJSON(txn, key, e); err != nil {
			return err
		}
		if err := txn.Set([]byte(ixKey), []byte(key)); err != nil {
			return fmt.Errorf("set %s: %w", ixKey, err)
		}
		return nil
	})
}

// GetLogEntry returns one entry by ID, or ErrNotFound.
func (s *Store) GetLogEntry(id string) (*datatypes.BehaviorChangeLogEntry, error) {
	var e datatypes.BehaviorChangeLogEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixLogIndex + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("log entry %s: %w", id, datatypes.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var key string
		if err := item.Value(func(val []byte) error {
			key = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, key, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// QueryLog returns entries matching the filter, in timestamp order.
func (s *Store) QueryLog(filter datatypes.HistoryFilter) ([]datatypes.BehaviorChangeLogEntry, error) {
	var out []datatypes.BehaviorChangeLogEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return scanJSON(s, txn, prefixLog, func(_ string, e *datatypes.BehaviorChangeLogEntry) error {
			if !filter.Matches(e) {
				return nil
			}
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
			out = append(out, *e)
			return nil
		})
	})
	return out, err
}

// =============================================================================
// Freeze flag
// =============================================================================

// GetFreeze returns the current freeze state. A never-frozen subsystem
// returns the zero state.
func (s *Store) GetFreeze() (*datatypes.FreezeState, error) {
	var fs datatypes.FreezeState
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := freezeState(txn)
		if err != nil {
			return err
		}
		fs = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

// SetFreeze writes the freeze state. Raising and clearing the freeze
// both go through here; callers log the decision alongside.
func (s *Store) SetFreeze(fs *datatypes.FreezeState) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyFreeze, fs)
	})
}
