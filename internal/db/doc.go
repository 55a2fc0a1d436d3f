// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package db is the bun-backed implementation of store.Store.
//
// One BunStore serves SQLite (modernc.org/sqlite), PostgreSQL (pgx stdlib)
// and MySQL. Schema changes are embedded per dialect under migrations/ and
// applied by NewStoreFromDSN before the store is returned.
//
// Testing notes
//   - Prefer NewStoreFromDSN("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
//     in tests that need real DB semantics and migrations. Memory DSNs are
//     limited to one open connection so the schema is visible to every query.
//   - internal/testutil wraps this and seeds a migratable project.
package db
