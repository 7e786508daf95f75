// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the in-memory per-conversation message cache.
//
// The cache holds recently fetched message histories with a freshness
// TTL and runs a background preloader that speculatively warms entries
// for conversations the user is likely to open next. It never performs
// network or database calls itself; fetch functions are injected by the
// caller, which keeps the cache framework-agnostic and unit-testable
// with a stub fetcher.
//
// # Ownership
//
// The cache exclusively owns its entries. Callers must treat returned
// message slices as read-only; derived views (merges, filters) are
// built from copies elsewhere.
package cache
