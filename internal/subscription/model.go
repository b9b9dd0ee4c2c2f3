package subscription

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrRowNotFound indicates the row is not part of the customer's list.
	ErrRowNotFound = errors.New("recurring order not found")
	// ErrRowBusy is returned while a save or cancel for the same row is in flight.
	ErrRowBusy = errors.New("recurring order is busy")
	// ErrNothingToConfirm is returned by ConfirmCancel when no row awaits confirmation.
	ErrNothingToConfirm = errors.New("no cancellation awaiting confirmation")
	// ErrInvalidStatus rejects statuses outside active, paused and canceled.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidDeliveryDay rejects weekday ids outside 1..7.
	ErrInvalidDeliveryDay = errors.New("invalid delivery day")
	// ErrNotLoaded is returned when an operation needs a workspace that was never loaded.
	ErrNotLoaded = errors.New("subscriptions not loaded")
)

// Interval is the number of months between runs.
type Interval int

// Intervals lists the cadences the storefront offers, in display order.
var Intervals = []Interval{1, 2, 3, 6}

// Valid reports whether the interval is one of the offered cadences.
func (i Interval) Valid() bool {
	return slices.Contains(Intervals, i)
}

// Status is the lifecycle state of a recurring order.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCanceled:
		return true
	}
	return false
}

// WeekdaySet holds preferred delivery weekday ids, 1 (Sunday) through 7 (Saturday).
type WeekdaySet []int

// NewWeekdaySet validates, sorts and de-duplicates ids.
func NewWeekdaySet(ids []int) (WeekdaySet, error) {
	out := make(WeekdaySet, 0, len(ids))
	for _, id := range ids {
		if id < 1 || id > 7 {
			return nil, ErrInvalidDeliveryDay
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Equal compares two sets regardless of nil-ness.
func (w WeekdaySet) Equal(other WeekdaySet) bool {
	return slices.Equal(w, other)
}

// Clone returns a non-nil copy.
func (w WeekdaySet) Clone() WeekdaySet {
	return append(WeekdaySet{}, w...)
}

// RecurringOrder is the canonical form of one ERP recurring-order record.
type RecurringOrder struct {
	ROID                  string     `json:"roId"`
	ProductID             string     `json:"productId,omitempty"`
	ProductName           string     `json:"productName,omitempty"`
	Quantity              int        `json:"quantity,omitempty"`
	Interval              Interval   `json:"interval"`
	Status                Status     `json:"status"`
	NextRunDate           time.Time  `json:"nextRunDate"`
	PreferredDeliveryDays WeekdaySet `json:"preferredDeliveryDays"`
}

// RowState is the per-row lifecycle position.
type RowState string

const (
	RowClean      RowState = "clean"
	RowDirty      RowState = "dirty"
	RowSaving     RowState = "saving"
	RowConfirming RowState = "confirming"
	RowCanceling  RowState = "canceling"
)

// Outcome reports what a save or cancel did.
type Outcome string

const (
	OutcomeNoop              Outcome = "noop"
	OutcomeSaved             Outcome = "saved"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
	OutcomeCanceled          Outcome = "canceled"
	OutcomeFailed            Outcome = "failed"
	OutcomeStale             Outcome = "stale"
)

// NoticeLevel classifies a notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient user-facing message about a row operation.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	ROID    string      `json:"roId"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	At      time.Time   `json:"at"`
}

const maxNotices = 50

// Workspace is the working copy of one customer's subscription list: the
// visible rows, their ERP baselines and the pending local edits.
type Workspace struct {
	CustomerID string           `json:"customerId"`
	Generation uint64           `json:"generation"`
	LoadedAt   time.Time        `json:"loadedAt"`
	Items      []RecurringOrder `json:"items"`

	Initial       map[string]Interval   `json:"initial"`
	Pending       map[string]Interval   `json:"pending"`
	InitialDate   map[string]time.Time  `json:"initialDate"`
	PendingDate   map[string]time.Time  `json:"pendingDate"`
	InitialStatus map[string]Status     `json:"initialStatus"`
	PendingStatus map[string]Status     `json:"pendingStatus"`
	InitialDays   map[string]WeekdaySet `json:"initialDays"`
	PendingDays   map[string]WeekdaySet `json:"pendingDays"`

	// Busy flags hold the time the operation started so an abandoned flag
	// can expire.
	SavingRow    map[string]time.Time `json:"savingRow"`
	SavingStatus map[string]time.Time `json:"savingStatus"`
	Confirming   string               `json:"confirming,omitempty"`
	Notices      []Notice             `json:"notices,omitempty"`
}

// NewWorkspace returns an empty, unloaded workspace.
func NewWorkspace(customerID string) *Workspace {
	ws := &Workspace{CustomerID: customerID}
	ws.reset()
	return ws
}

func (ws *Workspace) reset() {
	ws.Items = []RecurringOrder{}
	ws.Initial = map[string]Interval{}
	ws.Pending = map[string]Interval{}
	ws.InitialDate = map[string]time.Time{}
	ws.PendingDate = map[string]time.Time{}
	ws.InitialStatus = map[string]Status{}
	ws.PendingStatus = map[string]Status{}
	ws.InitialDays = map[string]WeekdaySet{}
	ws.PendingDays = map[string]WeekdaySet{}
	ws.SavingRow = map[string]time.Time{}
	ws.SavingStatus = map[string]time.Time{}
	ws.Confirming = ""
}

// ensureMaps repairs nil maps after decoding an older snapshot.
func (ws *Workspace) ensureMaps() {
	if ws.Items == nil {
		ws.Items = []RecurringOrder{}
	}
	if ws.Initial == nil {
		ws.Initial = map[string]Interval{}
	}
	if ws.Pending == nil {
		ws.Pending = map[string]Interval{}
	}
	if ws.InitialDate == nil {
		ws.InitialDate = map[string]time.Time{}
	}
	if ws.PendingDate == nil {
		ws.PendingDate = map[string]time.Time{}
	}
	if ws.InitialStatus == nil {
		ws.InitialStatus = map[string]Status{}
	}
	if ws.PendingStatus == nil {
		ws.PendingStatus = map[string]Status{}
	}
	if ws.InitialDays == nil {
		ws.InitialDays = map[string]WeekdaySet{}
	}
	if ws.PendingDays == nil {
		ws.PendingDays = map[string]WeekdaySet{}
	}
	if ws.SavingRow == nil {
		ws.SavingRow = map[string]time.Time{}
	}
	if ws.SavingStatus == nil {
		ws.SavingStatus = map[string]time.Time{}
	}
}

// Loaded reports whether the workspace was ever filled from the ERP.
func (ws *Workspace) Loaded() bool {
	return !ws.LoadedAt.IsZero()
}

func (ws *Workspace) replace(orders []RecurringOrder, now time.Time) {
	ws.reset()
	ws.Generation++
	ws.LoadedAt = now
	for _, o := range orders {
		ws.Items = append(ws.Items, o)
		ws.Initial[o.ROID] = o.Interval
		ws.Pending[o.ROID] = o.Interval
		ws.InitialDate[o.ROID] = o.NextRunDate
		ws.PendingDate[o.ROID] = o.NextRunDate
		ws.InitialStatus[o.ROID] = o.Status
		ws.PendingStatus[o.ROID] = o.Status
		ws.InitialDays[o.ROID] = o.PreferredDeliveryDays.Clone()
		ws.PendingDays[o.ROID] = o.PreferredDeliveryDays.Clone()
	}
}

func (ws *Workspace) index(roID string) int {
	for i, item := range ws.Items {
		if item.ROID == roID {
			return i
		}
	}
	return -1
}

func (ws *Workspace) has(roID string) bool {
	return ws.index(roID) >= 0
}

// dirty reports whether any pending field differs from the baseline.
func (ws *Workspace) dirty(roID string) bool {
	return ws.Pending[roID] != ws.Initial[roID] ||
		!ws.PendingDate[roID].Equal(ws.InitialDate[roID]) ||
		ws.PendingStatus[roID] != ws.InitialStatus[roID] ||
		!ws.PendingDays[roID].Equal(ws.InitialDays[roID])
}

func (ws *Workspace) busy(roID string, now time.Time, ttl time.Duration) bool {
	for _, flags := range []map[string]time.Time{ws.SavingRow, ws.SavingStatus} {
		started, ok := flags[roID]
		if !ok {
			continue
		}
		if ttl > 0 && now.Sub(started) > ttl {
			delete(flags, roID)
			continue
		}
		return true
	}
	return false
}

// live reports whether the busy flag for roID is set and younger than ttl.
// It never clears the flag, so it is safe to call from read-only views.
func live(flags map[string]time.Time, roID string, now time.Time, ttl time.Duration) bool {
	started, ok := flags[roID]
	if !ok || started.IsZero() {
		return false
	}
	return ttl <= 0 || now.Sub(started) <= ttl
}

// state reports the row's lifecycle position. Busy flags older than ttl are
// treated as abandoned.
func (ws *Workspace) state(roID string, now time.Time, ttl time.Duration) RowState {
	switch {
	case live(ws.SavingStatus, roID, now, ttl):
		return RowCanceling
	case live(ws.SavingRow, roID, now, ttl):
		return RowSaving
	case ws.Confirming == roID:
		return RowConfirming
	case ws.dirty(roID):
		return RowDirty
	default:
		return RowClean
	}
}

// pendingRow merges the pending edits into the stored row.
func (ws *Workspace) pendingRow(roID string) RecurringOrder {
	row := ws.Items[ws.index(roID)]
	row.Interval = ws.Pending[roID]
	row.NextRunDate = ws.PendingDate[roID]
	row.Status = ws.PendingStatus[roID]
	row.PreferredDeliveryDays = ws.PendingDays[roID].Clone()
	return row
}

// commit makes the pending values the new baseline.
func (ws *Workspace) commit(roID string) {
	ws.Initial[roID] = ws.Pending[roID]
	ws.InitialDate[roID] = ws.PendingDate[roID]
	ws.InitialStatus[roID] = ws.PendingStatus[roID]
	ws.InitialDays[roID] = ws.PendingDays[roID].Clone()
	if i := ws.index(roID); i >= 0 {
		ws.Items[i] = ws.pendingRow(roID)
	}
}

// discard resets pending values to the baseline.
func (ws *Workspace) discard(roID string) {
	ws.Pending[roID] = ws.Initial[roID]
	ws.PendingDate[roID] = ws.InitialDate[roID]
	ws.PendingStatus[roID] = ws.InitialStatus[roID]
	ws.PendingDays[roID] = ws.InitialDays[roID].Clone()
	if ws.Confirming == roID {
		ws.Confirming = ""
	}
}

// remove drops every trace of a row.
func (ws *Workspace) remove(roID string) {
	if i := ws.index(roID); i >= 0 {
		ws.Items = slices.Delete(ws.Items, i, i+1)
	}
	for _, m := range []map[string]Interval{ws.Initial, ws.Pending} {
		delete(m, roID)
	}
	for _, m := range []map[string]time.Time{ws.InitialDate, ws.PendingDate, ws.SavingRow, ws.SavingStatus} {
		delete(m, roID)
	}
	delete(ws.InitialStatus, roID)
	delete(ws.PendingStatus, roID)
	delete(ws.InitialDays, roID)
	delete(ws.PendingDays, roID)
	if ws.Confirming == roID {
		ws.Confirming = ""
	}
}

func (ws *Workspace) notify(n Notice) {
	ws.Notices = append(ws.Notices, n)
	if len(ws.Notices) > maxNotices {
		ws.Notices = ws.Notices[len(ws.Notices)-maxNotices:]
	}
}
