/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1 defines the JSON contract served over HTTP and WebSocket:
// table pages, live session commands and snapshots, and saved views.
package v1

import (
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Table kinds addressable under /api/v1/tables/{kind}.
const (
	KindPods       = "pods"
	KindContainers = "containers"
	KindNodes      = "nodes"
)

// ValidKind reports whether kind names a served table.
func ValidKind(kind string) bool {
	switch kind {
	case KindPods, KindContainers, KindNodes:
		return true
	default:
		return false
	}
}

// Timerange is the wire form of a query window. From and To are RFC3339
// timestamps; Interval is a Go duration string such as "1m" or "1h30m".
type Timerange struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Interval metav1.Duration `json:"interval"`
}

// Validate rejects windows a query layer would refuse anyway, so clients
// hear about it at the edge.
func (t Timerange) Validate() error {
	if t.From.IsZero() || t.To.IsZero() {
		return fmt.Errorf("timerange from and to are required")
	}
	if !t.To.After(t.From) {
		return fmt.Errorf("timerange to must be after from")
	}
	if t.Interval.Duration <= 0 {
		return fmt.Errorf("timerange interval must be positive")
	}
	return nil
}

// Sort is the wire form of a table sort.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// TablePage is one page of display rows plus the state it was cut from.
type TablePage[R any] struct {
	Kind      string    `json:"kind"`
	Rows      []R       `json:"rows"`
	TotalRows int       `json:"totalRows"`
	PageIndex int       `json:"pageIndex"`
	PageCount int       `json:"pageCount"`
	Sort      Sort      `json:"sort"`
	Timerange Timerange `json:"timerange"`
}

// Live session actions a client may send on the WebSocket.
const (
	ActionSetTimerange = "setTimerange"
	ActionSetFilter    = "setFilter"
	ActionSetSort      = "setSort"
	ActionSetPage      = "setPage"
	ActionSetPageSize  = "setPageSize"
	ActionRefresh      = "refresh"
)

// LiveCommand is one client instruction on a live table session. Only the
// field matching the action is read.
type LiveCommand struct {
	Action    string     `json:"action"`
	Timerange *Timerange `json:"timerange,omitempty"`
	Filter    *string    `json:"filter,omitempty"`
	Sort      *Sort      `json:"sort,omitempty"`
	PageIndex *int       `json:"pageIndex,omitempty"`
	PageSize  *int       `json:"pageSize,omitempty"`
}

// LiveState is one snapshot pushed to a live table session.
type LiveState[R any] struct {
	Phase     string       `json:"phase"`
	IsLoading bool         `json:"isLoading"`
	Page      TablePage[R] `json:"page"`
}

// SavedView is a persisted table configuration. Absolute timestamps are
// not stored; LastDuration keeps the view relative ("the last 1h") so it
// reopens against the wall clock.
type SavedView struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Kind          string    `json:"kind" db:"kind"`
	Filter        string    `json:"filter" db:"filter"`
	SortField     string    `json:"sortField" db:"sort_field"`
	SortDirection string    `json:"sortDirection" db:"sort_direction"`
	PageSize      int       `json:"pageSize" db:"page_size"`
	LastDuration  string    `json:"lastDuration" db:"last_duration"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// Validate checks the client-supplied fields of a saved view.
func (s SavedView) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !ValidKind(s.Kind) {
		return fmt.Errorf("unknown table kind %q", s.Kind)
	}
	if s.PageSize < 0 {
		return fmt.Errorf("pageSize must not be negative")
	}
	if s.LastDuration != "" {
		d, err := time.ParseDuration(s.LastDuration)
		if err != nil {
			return fmt.Errorf("invalid lastDuration %q", s.LastDuration)
		}
		if d <= 0 {
			return fmt.Errorf("lastDuration must be positive")
		}
	}
	return nil
}

// ErrorResponse is the JSON error envelope for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
