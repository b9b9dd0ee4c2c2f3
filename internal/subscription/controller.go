package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/storefront-gateway/internal/erp"
	"github.com/noah-isme/storefront-gateway/internal/lock"
	"github.com/noah-isme/storefront-gateway/internal/obs"
)

// ErrInvalidDate rejects next-run dates before today.
var ErrInvalidDate = errors.New("next run date is in the past")

// errUnchanged aborts an update without persisting the workspace.
var errUnchanged = errors.New("workspace unchanged")

// Gateway is the ERP surface the controller needs.
type Gateway interface {
	List(ctx context.Context, customerID string) ([]map[string]any, error)
	Patch(ctx context.Context, roID string, patch Patch) error
}

// RowGuard prevents duplicate submits for one row across instances.
// lock.Locker satisfies it.
type RowGuard interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Release, error)
}

// ChangeKind names the operation behind a Change.
type ChangeKind string

const (
	ChangeSave   ChangeKind = "save"
	ChangeCancel ChangeKind = "cancel"
)

// Change describes one save or cancel attempt that reached the ERP.
type Change struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customerId"`
	ROID       string     `json:"roId"`
	Kind       ChangeKind `json:"kind"`
	Patch      Patch      `json:"patch"`
	Outcome    Outcome    `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
	At         time.Time  `json:"at"`
}

// ChangeRecorder receives every attempted change. Failures are logged only.
type ChangeRecorder interface {
	Record(ctx context.Context, change Change) error
}

// Row is a list row as shown to the customer: pending values, the ERP
// baseline and the row state.
type Row struct {
	RecurringOrder
	Baseline RecurringOrder `json:"baseline"`
	State    RowState       `json:"state"`
}

// RowResult is the per-row outcome of SaveAll.
type RowResult struct {
	ROID    string  `json:"roId"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// ControllerConfig groups Controller dependencies. Without a Store the
// workspace lives in memory for the controller's lifetime.
type ControllerConfig struct {
	CustomerID string
	Gateway    Gateway
	Normalizer *Normalizer
	Store      Store
	Serializer Serializer
	RowGuard   RowGuard
	Recorder   ChangeRecorder
	// BusyTTL expires busy flags left behind by an abandoned operation.
	BusyTTL time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Controller orchestrates one customer's recurring-order list: loading,
// local edits, minimal patches and confirmed cancellation. Rows are
// independent; the workspace is only held while state changes and never
// across an ERP call.
type Controller struct {
	customerID string
	gateway    Gateway
	normalizer *Normalizer
	state      state
	guard      RowGuard
	recorder   ChangeRecorder
	busyTTL    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewController constructs a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.CustomerID == "" {
		return nil, errors.New("subscription: customer id is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("subscription: gateway is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(nil, now)
	}
	busyTTL := cfg.BusyTTL
	if busyTTL <= 0 {
		busyTTL = 2 * time.Minute
	}
	var st state = &localState{ws: NewWorkspace(cfg.CustomerID)}
	if cfg.Store != nil {
		serializer := cfg.Serializer
		if serializer == nil {
			serializer = &LocalSerializer{}
		}
		st = &storedState{store: cfg.Store, serializer: serializer, customerID: cfg.CustomerID, lockTTL: 10 * time.Second}
	}
	return &Controller{
		customerID: cfg.CustomerID,
		gateway:    cfg.Gateway,
		normalizer: normalizer,
		state:      st,
		guard:      cfg.RowGuard,
		recorder:   cfg.Recorder,
		busyTTL:    busyTTL,
		now:        now,
		logger:     cfg.Logger.With().Str("component", "subscriptions").Str("customer_id", cfg.CustomerID).Logger(),
	}, nil
}

func (c *Controller) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		scoped := l.With().Str("component", "subscriptions").Logger()
		return &scoped
	}
	return &c.logger
}

// Load fetches the customer's recurring orders, normalizes them, drops
// canceled rows and resets every baseline and pending edit. Results of
// operations in flight during a reload are discarded.
func (c *Controller) Load(ctx context.Context) error {
	raw, err := c.gateway.List(ctx, c.customerID)
	if err != nil {
		return fmt.Errorf("list recurring orders: %w", err)
	}
	orders := make([]RecurringOrder, 0, len(raw))
	seen := map[string]bool{}
	for _, record := range raw {
		order := c.normalizer.Normalize(record)
		if order.ROID == "" {
			c.log(ctx).Warn().Msg("recurring order without id skipped")
			continue
		}
		if order.Status == StatusCanceled || seen[order.ROID] {
			continue
		}
		seen[order.ROID] = true
		orders = append(orders, order)
	}
	return c.state.update(ctx, func(ws *Workspace) error {
		ws.replace(orders, c.now())
		return nil
	})
}

// Loaded reports whether the workspace holds a loaded list.
func (c *Controller) Loaded(ctx context.Context) (bool, error) {
	var loaded bool
	err := c.state.view(ctx, func(ws *Workspace) { loaded = ws.Loaded() })
	return loaded, err
}

// Rows returns the visible rows in list order.
func (c *Controller) Rows(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := c.state.view(ctx, func(ws *Workspace) {
		rows = make([]Row, 0, len(ws.Items))
		for _, item := range ws.Items {
			rows = append(rows, c.row(ws, item.ROID))
		}
	})
	return rows, err
}

// Row returns a single row.
func (c *Controller) Row(ctx context.Context, roID string) (Row, error) {
	var (
		row   Row
		found bool
	)
	err := c.state.view(ctx, func(ws *Workspace) {
		if found = ws.has(roID); found {
			row = c.row(ws, roID)
		}
	})
	if err != nil {
		return Row{}, err
	}
	if !found {
		return Row{}, fmt.Errorf("%s: %w", roID, ErrRowNotFound)
	}
	return row, nil
}

func (c *Controller) row(ws *Workspace, roID string) Row {
	baseline := ws.Items[ws.index(roID)]
	return Row{RecurringOrder: ws.pendingRow(roID), Baseline: baseline, State: ws.state(roID, c.now(), c.busyTTL)}
}

// RowState reports the lifecycle state of a row.
func (c *Controller) RowState(ctx context.Context, roID string) (RowState, error) {
	row, err := c.Row(ctx, roID)
	if err != nil {
		return "", err
	}
	return row.State, nil
}

// edit applies fn to an idle row.
func (c *Controller) edit(ctx context.Context, roID string, fn func(ws *Workspace)) error {
	return c.state.update(ctx, func(ws *Workspace) error {
		if !ws.has(roID) {
			return fmt.Errorf("%s: %w", roID, ErrRowNotFound)
		}
		if ws.busy(roID, c.now(), c.busyTTL) {
			return fmt.Errorf("%s: %w", roID, ErrRowBusy)
		}
		fn(ws)
		return nil
	})
}

// EditSet is a group of pending edits for one row. Nil fields are left as is.
type EditSet struct {
	Interval     *int
	NextRunDate  *time.Time
	Status       *Status
	DeliveryDays []int
}

// Edit validates every field of set and then applies them together, so a
// rejected field leaves the row untouched.
func (c *Controller) Edit(ctx context.Context, roID string, set EditSet) error {
	var (
		date time.Time
		days WeekdaySet
	)
	if set.Interval != nil && !Interval(*set.Interval).Valid() {
		return fmt.Errorf("interval %d: %w", *set.Interval, ErrInvalidInterval)
	}
	if set.NextRunDate != nil {
		date = DateOnly(*set.NextRunDate)
		if date.Before(DateOnly(c.now())) {
			return fmt.Errorf("%s: %w", date.Format(dateLayout), ErrInvalidDate)
		}
	}
	if set.Status != nil && !set.Status.Valid() {
		return fmt.Errorf("%q: %w", *set.Status, ErrInvalidStatus)
	}
	if set.DeliveryDays != nil {
		var err error
		if days, err = NewWeekdaySet(set.DeliveryDays); err != nil {
			return err
		}
	}
	return c.edit(ctx, roID, func(ws *Workspace) {
		if set.Interval != nil {
			ws.Pending[roID] = Interval(*set.Interval)
		}
		if set.NextRunDate != nil {
			ws.PendingDate[roID] = date
		}
		if set.Status != nil {
			ws.PendingStatus[roID] = *set.Status
		}
		if set.DeliveryDays != nil {
			ws.PendingDays[roID] = days
		}
	})
}

// SetInterval records a pending interval.
func (c *Controller) SetInterval(ctx context.Context, roID string, months int) error {
	return c.Edit(ctx, roID, EditSet{Interval: &months})
}

// SetNextRunDate records a pending next-run date. Only the calendar date is kept.
func (c *Controller) SetNextRunDate(ctx context.Context, roID string, date time.Time) error {
	return c.Edit(ctx, roID, EditSet{NextRunDate: &date})
}

// SetStatus records a pending status. A pending cancel is only sent after
// confirmation.
func (c *Controller) SetStatus(ctx context.Context, roID string, status Status) error {
	return c.Edit(ctx, roID, EditSet{Status: &status})
}

// SetDeliveryDays records pending preferred delivery weekdays.
func (c *Controller) SetDeliveryDays(ctx context.Context, roID string, days []int) error {
	if days == nil {
		days = []int{}
	}
	return c.Edit(ctx, roID, EditSet{DeliveryDays: days})
}

// Discard resets a row's pending values to its baseline.
func (c *Controller) Discard(ctx context.Context, roID string) error {
	return c.edit(ctx, roID, func(ws *Workspace) { ws.discard(roID) })
}

// BuildPatch returns the minimal patch for a row. ok is false when the row is clean.
func (c *Controller) BuildPatch(ctx context.Context, roID string) (Patch, bool, error) {
	var (
		patch Patch
		ok    bool
		found bool
	)
	err := c.state.view(ctx, func(ws *Workspace) {
		if found = ws.has(roID); found {
			patch, ok = buildPatch(ws, roID, c.normalizer.StatusLabel)
		}
	})
	if err != nil {
		return Patch{}, false, err
	}
	if !found {
		return Patch{}, false, fmt.Errorf("%s: %w", roID, ErrRowNotFound)
	}
	return patch, ok, nil
}

func (c *Controller) acquireGuard(ctx context.Context, roID string) (lock.Release, error) {
	if c.guard == nil {
		return func() {}, nil
	}
	release, err := c.guard.TryLock(ctx, "row:"+c.customerID+":"+roID, c.busyTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%s: %w", roID, ErrRowBusy)
		}
		return nil, fmt.Errorf("row guard: %w", err)
	}
	return release, nil
}

// SaveRow sends the minimal patch for a dirty row. A clean row is a no-op
// without any ERP call. A pending cancel enters confirmation instead. On
// failure the pending values stay so the customer can retry.
func (c *Controller) SaveRow(ctx context.Context, roID string) (Outcome, error) {
	release, err := c.acquireGuard(ctx, roID)
	if err != nil {
		return "", err
	}
	defer release()

	var (
		patch   Patch
		gen     uint64
		outcome Outcome
	)
	err = c.state.update(ctx, func(ws *Workspace) error {
		if !ws.has(roID) {
			return fmt.Errorf("%s: %w", roID, ErrRowNotFound)
		}
		if ws.busy(roID, c.now(), c.busyTTL) {
			return fmt.Errorf("%s: %w", roID, ErrRowBusy)
		}
		p, ok := buildPatch(ws, roID, c.normalizer.StatusLabel)
		if !ok {
			outcome = OutcomeNoop
			return errUnchanged
		}
		if ws.PendingStatus[roID] == StatusCanceled {
			outcome = OutcomeNeedsConfirmation
			if ws.Confirming == "" || ws.Confirming == roID {
				ws.Confirming = roID
				return nil
			}
			return errUnchanged
		}
		ws.SavingRow[roID] = c.now()
		patch, gen = p, ws.Generation
		return nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	if err != nil || outcome != "" {
		return outcome, err
	}

	callErr := c.gateway.Patch(ctx, roID, patch)
	return c.finish(ctx, ChangeSave, roID, patch, gen, callErr)
}

// finish applies an ERP result to the workspace, records the change and
// reports the outcome. The workspace update ignores request cancellation so a
// busy flag is never left behind.
func (c *Controller) finish(ctx context.Context, kind ChangeKind, roID string, patch Patch, gen uint64, callErr error) (Outcome, error) {
	detail := erp.Detail(callErr)
	outcome := OutcomeSaved
	if kind == ChangeCancel {
		outcome = OutcomeCanceled
	}
	if callErr != nil {
		outcome = OutcomeFailed
	}

	err := c.state.update(context.WithoutCancel(ctx), func(ws *Workspace) error {
		if ws.Generation != gen || !ws.has(roID) {
			outcome = OutcomeStale
			return errUnchanged
		}
		delete(ws.SavingRow, roID)
		delete(ws.SavingStatus, roID)
		notice := Notice{ROID: roID, At: c.now()}
		switch {
		case callErr != nil:
			notice.Level, notice.Detail = NoticeError, detail
			notice.Message = "Could not update subscription"
			if kind == ChangeCancel {
				notice.Message = "Could not cancel subscription"
			}
		case kind == ChangeCancel:
			ws.remove(roID)
			notice.Level, notice.Message = NoticeSuccess, "Subscription canceled"
		default:
			ws.commit(roID)
			notice.Level, notice.Message = NoticeSuccess, "Subscription updated"
		}
		ws.notify(notice)
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		c.log(ctx).Error().Err(err).Str("ro_id", roID).Msg("workspace update after erp call failed")
	}

	logEvent := c.log(ctx).Info()
	if callErr != nil {
		logEvent = c.log(ctx).Warn().Err(callErr)
	}
	if outcome == OutcomeStale {
		logEvent = c.log(ctx).Warn()
	}
	logEvent.Str("ro_id", roID).Str("kind", string(kind)).Str("outcome", string(outcome)).Msg("recurring order change")

	if kind == ChangeCancel {
		obs.CountCancel(string(outcome))
	} else {
		obs.CountSave(string(outcome))
	}
	c.record(ctx, Change{
		ID:         uuid.NewString(),
		CustomerID: c.customerID,
		ROID:       roID,
		Kind:       kind,
		Patch:      patch,
		Outcome:    outcome,
		Detail:     detail,
		At:         c.now(),
	})

	if callErr != nil {
		return OutcomeFailed, fmt.Errorf("%s %s: %w", kind, roID, callErr)
	}
	return outcome, nil
}

func (c *Controller) record(ctx context.Context, change Change) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), change); err != nil {
		c.log(ctx).Warn().Err(err).Str("ro_id", change.ROID).Msg("change recording failed")
	}
}

// SaveAll saves every dirty row concurrently. Rows are independent: one
// failure never stops another row. A clean list makes no ERP call.
func (c *Controller) SaveAll(ctx context.Context) ([]RowResult, error) {
	var dirty []string
	err := c.state.view(ctx, func(ws *Workspace) {
		for _, item := range ws.Items {
			if ws.dirty(item.ROID) {
				dirty = append(dirty, item.ROID)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	results := make([]RowResult, len(dirty))
	var g errgroup.Group
	g.SetLimit(8)
	for i, roID := range dirty {
		g.Go(func() error {
			outcome, err := c.SaveRow(ctx, roID)
			results[i] = RowResult{ROID: roID, Outcome: outcome}
			if err != nil {
				if outcome == "" {
					outcome = OutcomeFailed
				}
				results[i].Outcome = outcome
				results[i].Detail = erp.Detail(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// RequestCancel asks for confirmation before canceling a row.
func (c *Controller) RequestCancel(ctx context.Context, roID string) error {
	return c.edit(ctx, roID, func(ws *Workspace) { ws.Confirming = roID })
}

// DismissCancel closes the confirmation. A pending cancel status on that row
// reverts to its baseline.
func (c *Controller) DismissCancel(ctx context.Context) error {
	err := c.state.update(ctx, func(ws *Workspace) error {
		roID := ws.Confirming
		if roID == "" {
			return errUnchanged
		}
		ws.Confirming = ""
		if ws.PendingStatus[roID] == StatusCanceled {
			ws.PendingStatus[roID] = ws.InitialStatus[roID]
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// Confirming returns the row awaiting cancel confirmation, if any.
func (c *Controller) Confirming(ctx context.Context) (string, error) {
	var roID string
	err := c.state.view(ctx, func(ws *Workspace) { roID = ws.Confirming })
	return roID, err
}

// ConfirmCancel sends the cancel patch for the confirming row. Success
// removes the row from the list; failure keeps it visible with an error notice.
func (c *Controller) ConfirmCancel(ctx context.Context) (string, Outcome, error) {
	var roID string
	err := c.state.view(ctx, func(ws *Workspace) { roID = ws.Confirming })
	if err != nil {
		return "", "", err
	}
	if roID == "" {
		return "", "", ErrNothingToConfirm
	}
	release, err := c.acquireGuard(ctx, roID)
	if err != nil {
		return roID, "", err
	}
	defer release()

	var (
		patch Patch
		gen   uint64
	)
	err = c.state.update(ctx, func(ws *Workspace) error {
		if ws.Confirming != roID {
			return ErrNothingToConfirm
		}
		if !ws.has(roID) {
			ws.Confirming = ""
			return fmt.Errorf("%s: %w", roID, ErrRowNotFound)
		}
		if ws.busy(roID, c.now(), c.busyTTL) {
			return fmt.Errorf("%s: %w", roID, ErrRowBusy)
		}
		ws.Confirming = ""
		ws.SavingStatus[roID] = c.now()
		patch = cancelPatch(ws.PendingDays[roID], c.normalizer.StatusLabel)
		gen = ws.Generation
		return nil
	})
	if err != nil {
		return roID, "", err
	}

	callErr := c.gateway.Patch(ctx, roID, patch)
	outcome, err := c.finish(ctx, ChangeCancel, roID, patch, gen, callErr)
	return roID, outcome, err
}

// DrainNotices returns and clears the pending notices.
func (c *Controller) DrainNotices(ctx context.Context) ([]Notice, error) {
	var notices []Notice
	err := c.state.update(ctx, func(ws *Workspace) error {
		if len(ws.Notices) == 0 {
			return errUnchanged
		}
		notices, ws.Notices = ws.Notices, nil
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	if notices == nil {
		notices = []Notice{}
	}
	return notices, nil
}
