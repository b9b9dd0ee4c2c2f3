package subscription

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Canonical field names used as keys in the alias table.
const (
	FieldROID                  = "roId"
	FieldProductID             = "productId"
	FieldProductName           = "productName"
	FieldQuantity              = "quantity"
	FieldInterval              = "interval"
	FieldStatus                = "status"
	FieldNextRunDate           = "nextRunDate"
	FieldPreferredDeliveryDays = "preferredDeliveryDays"
)

var canonicalFields = []string{
	FieldROID, FieldProductID, FieldProductName, FieldQuantity,
	FieldInterval, FieldStatus, FieldNextRunDate, FieldPreferredDeliveryDays,
}

//go:embed aliases.yaml
var defaultAliasYAML []byte

// AliasTable maps upstream ERP field names and labels onto canonical values.
type AliasTable struct {
	Version   int                 `yaml:"version"`
	Fields    map[string][]string `yaml:"fields"`
	Statuses  map[Status][]string `yaml:"statuses"`
	Intervals map[int][]string    `yaml:"intervals"`
	Labels    struct {
		Status map[Status]string `yaml:"status"`
	} `yaml:"labels"`
}

var defaultAliasTable = sync.OnceValues(func() (*AliasTable, error) {
	return ParseAliasTable(defaultAliasYAML)
})

// DefaultAliasTable returns the embedded table.
func DefaultAliasTable() *AliasTable {
	table, err := defaultAliasTable()
	if err != nil {
		panic(fmt.Sprintf("embedded alias table: %v", err))
	}
	return table
}

// LoadAliasTable reads a table from path, or returns the embedded one when path is empty.
func LoadAliasTable(path string) (*AliasTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultAliasTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	return ParseAliasTable(data)
}

// ParseAliasTable decodes and validates a YAML alias table.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var table AliasTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}
	if table.Version <= 0 {
		return nil, errors.New("alias table: version is required")
	}
	for _, field := range canonicalFields {
		if len(table.Fields[field]) == 0 {
			return nil, fmt.Errorf("alias table: no aliases for %q", field)
		}
	}
	for status := range table.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("alias table: unknown status %q", status)
		}
	}
	for months := range table.Intervals {
		if !Interval(months).Valid() {
			return nil, fmt.Errorf("alias table: unsupported interval %d", months)
		}
	}
	for _, status := range []Status{StatusActive, StatusPaused, StatusCanceled} {
		if table.Labels.Status[status] == "" {
			return nil, fmt.Errorf("alias table: no ERP label for status %q", status)
		}
	}
	return &table, nil
}

var everyNMonths = regexp.MustCompile(`(\d+)\s*months?`)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "1/2/2006", "01/02/2006"}

// Normalizer converts heterogeneous ERP records into RecurringOrder values.
type Normalizer struct {
	table     *AliasTable
	statuses  map[string]Status
	intervals map[string]Interval
	now       func() time.Time
}

// NewNormalizer builds a normalizer. A nil table uses the embedded one and a
// nil clock uses time.Now.
func NewNormalizer(table *AliasTable, now func() time.Time) *Normalizer {
	if table == nil {
		table = DefaultAliasTable()
	}
	if now == nil {
		now = time.Now
	}
	n := &Normalizer{
		table:     table,
		statuses:  map[string]Status{},
		intervals: map[string]Interval{},
		now:       now,
	}
	for status, labels := range table.Statuses {
		n.statuses[string(status)] = status
		for _, label := range labels {
			n.statuses[strings.ToLower(strings.TrimSpace(label))] = status
		}
	}
	for months, labels := range table.Intervals {
		for _, label := range labels {
			n.intervals[strings.ToLower(strings.TrimSpace(label))] = Interval(months)
		}
	}
	return n
}

// Version returns the alias table version in use.
func (n *Normalizer) Version() int { return n.table.Version }

// StatusLabel returns the ERP label written for s in patches.
func (n *Normalizer) StatusLabel(s Status) string {
	if label := n.table.Labels.Status[s]; label != "" {
		return label
	}
	return string(s)
}

// Normalize maps a raw ERP record onto a RecurringOrder. It never fails:
// unknown statuses become active, unknown intervals become monthly and a
// missing next-run date is computed from today.
func (n *Normalizer) Normalize(raw map[string]any) RecurringOrder {
	order := RecurringOrder{
		ROID:        idString(n.pick(raw, FieldROID)),
		ProductID:   idString(n.pick(raw, FieldProductID)),
		ProductName: labelString(n.pick(raw, FieldProductName)),
		Quantity:    intValue(n.pick(raw, FieldQuantity)),
		Interval:    n.parseInterval(n.pick(raw, FieldInterval)),
		Status:      n.parseStatus(n.pick(raw, FieldStatus)),
	}
	if ref, ok := n.pick(raw, FieldProductID).(map[string]any); ok && order.ProductName == "" {
		order.ProductName = labelString(ref["refName"])
	}
	if date, ok := parseDate(n.pick(raw, FieldNextRunDate)); ok {
		order.NextRunDate = date
	} else {
		// Interval is always valid here so the calculator cannot fail.
		order.NextRunDate, _ = NextRunFromToday(n.now, int(order.Interval))
	}
	order.PreferredDeliveryDays = parseDays(n.pick(raw, FieldPreferredDeliveryDays))
	return order
}

func (n *Normalizer) pick(raw map[string]any, field string) any {
	for _, alias := range n.table.Fields[field] {
		if v, ok := raw[alias]; ok && !isEmpty(v) {
			return v
		}
	}
	return nil
}

func (n *Normalizer) parseStatus(v any) Status {
	if ref, ok := v.(map[string]any); ok {
		if s, ok := n.statuses[normLabel(labelString(ref["refName"]))]; ok {
			return s
		}
		v = ref["id"]
	}
	if s, ok := n.statuses[normLabel(labelString(v))]; ok {
		return s
	}
	return StatusActive
}

func (n *Normalizer) parseInterval(v any) Interval {
	if ref, ok := v.(map[string]any); ok {
		if i := n.intervalFromLabel(labelString(ref["refName"])); i != 0 {
			return i
		}
		v = ref["id"]
	}
	if i := n.intervalFromLabel(labelString(v)); i != 0 {
		return i
	}
	return 1
}

func (n *Normalizer) intervalFromLabel(label string) Interval {
	label = normLabel(label)
	if label == "" {
		return 0
	}
	if months, err := strconv.Atoi(label); err == nil {
		if Interval(months).Valid() {
			return Interval(months)
		}
		return 0
	}
	if i, ok := n.intervals[label]; ok {
		return i
	}
	if m := everyNMonths.FindStringSubmatch(label); m != nil {
		if months, err := strconv.Atoi(m[1]); err == nil && Interval(months).Valid() {
			return Interval(months)
		}
	}
	return 0
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return false
	}
	return false
}

func normLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// idString resolves identifiers, taking the id of NetSuite reference objects.
func idString(v any) string {
	if ref, ok := v.(map[string]any); ok {
		return idString(ref["id"])
	}
	return labelString(v)
}

// labelString renders scalars as text, taking refName of reference objects.
func labelString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return labelString(t["refName"])
	}
	return ""
}

func intValue(v any) int {
	s := idString(v)
	if s == "" {
		return 0
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

func parseDate(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return DateOnly(t), true
	}
	s := labelString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// parseDays accepts {items:[{id}]}, arrays of ids or reference objects, CSV
// strings and single numbers. Ids outside 1..7 are dropped.
func parseDays(v any) WeekdaySet {
	var ids []int
	var collect func(any)
	collect = func(v any) {
		switch t := v.(type) {
		case nil:
		case map[string]any:
			if items, ok := t["items"]; ok {
				collect(items)
				return
			}
			collect(t["id"])
		case []any:
			for _, item := range t {
				collect(item)
			}
		case string:
			for _, part := range strings.FieldsFunc(t, func(r rune) bool {
				return r == ',' || r == ';' || r == ' ' || r == '\u0005'
			}) {
				if id, err := strconv.Atoi(part); err == nil {
					ids = append(ids, id)
				}
			}
		default:
			if id := intValue(t); id != 0 {
				ids = append(ids, id)
			}
		}
	}
	collect(v)

	valid := ids[:0]
	for _, id := range ids {
		if id >= 1 && id <= 7 {
			valid = append(valid, id)
		}
	}
	set, _ := NewWeekdaySet(valid)
	return set
}
