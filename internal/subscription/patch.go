package subscription

import (
	"strconv"
)

const dateLayout = "2006-01-02"

// IDRef is a NetSuite list reference.
type IDRef struct {
	ID int `json:"id"`
}

// DeliveryDays is the sublist form the ERP requires on every update.
type DeliveryDays struct {
	Items []IDRef `json:"items"`
}

// Patch is the body of PATCH /recurring-orders/{roId}. Only changed fields are
// set; PreferredDeliveryDays is always sent.
type Patch struct {
	Interval              *string      `json:"interval,omitempty"`
	NextRunDate           *string      `json:"nextRunDate,omitempty"`
	Status                *string      `json:"status,omitempty"`
	PreferredDeliveryDays DeliveryDays `json:"preferredDeliveryDays"`
}

func deliveryDays(days WeekdaySet) DeliveryDays {
	out := DeliveryDays{Items: make([]IDRef, 0, len(days))}
	for _, id := range days {
		out.Items = append(out.Items, IDRef{ID: id})
	}
	return out
}

// buildPatch diffs pending against baseline. ok is false for a clean row.
func buildPatch(ws *Workspace, roID string, statusLabel func(Status) string) (Patch, bool) {
	p := Patch{PreferredDeliveryDays: deliveryDays(ws.PendingDays[roID])}
	if !ws.dirty(roID) {
		return p, false
	}
	if ws.Pending[roID] != ws.Initial[roID] {
		v := strconv.Itoa(int(ws.Pending[roID]))
		p.Interval = &v
	}
	if !ws.PendingDate[roID].Equal(ws.InitialDate[roID]) {
		v := ws.PendingDate[roID].Format(dateLayout)
		p.NextRunDate = &v
	}
	if ws.PendingStatus[roID] != ws.InitialStatus[roID] {
		v := statusLabel(ws.PendingStatus[roID])
		p.Status = &v
	}
	return p, true
}

// cancelPatch is the fixed payload that cancels a recurring order.
func cancelPatch(days WeekdaySet, statusLabel func(Status) string) Patch {
	v := statusLabel(StatusCanceled)
	return Patch{Status: &v, PreferredDeliveryDays: deliveryDays(days)}
}
