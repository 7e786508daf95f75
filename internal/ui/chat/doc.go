// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the interactive chat screen.
//
// The bubbletea model owns only view state. Persistence truth lives in
// the reconciler: the screen keeps a reconciled transcript plus the
// in-flight live turn, and re-runs a reconcile pass at turn milestones
// (user send, stream finish, completion notification). Stream deltas
// are coalesced through a frame-rate-capped buffer before they touch
// the viewport.
package chat
