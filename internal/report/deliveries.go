package report

import (
	"time"

	"github.com/pkg/errors"

	"github.com/agsys/depot-dispatch/internal/model"
)

// Range limits the delivery log to recent entries
type Range string

const (
	RangeDay       Range = "24h"
	RangeThreeDays Range = "3d"
	RangeAll       Range = "all"
)

// ParseRange accepts 24h, 3d, all or empty (all)
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case RangeDay, RangeThreeDays, RangeAll:
		return Range(s), nil
	case "":
		return RangeAll, nil
	}
	return "", errors.Errorf("unknown range %q (want 24h, 3d or all)", s)
}

// Window is the age limit of the range, zero for all
func (r Range) Window() time.Duration {
	switch r {
	case RangeDay:
		return 24 * time.Hour
	case RangeThreeDays:
		return 72 * time.Hour
	}
	return 0
}

// LogFilter narrows the delivery log. Center matches the center name the
// log carries.
type LogFilter struct {
	Range  Range
	Worker string
	Center string
}

// FilterDeliveries keeps the entries matching the filter. Entries without a
// timestamp only pass the all range.
func FilterDeliveries(entries []model.Delivery, f LogFilter, now time.Time) []model.Delivery {
	window := f.Range.Window()
	var out []model.Delivery
	for _, d := range entries {
		if f.Worker != "" && d.By != f.Worker {
			continue
		}
		if f.Center != "" && d.Center != f.Center {
			continue
		}
		if window > 0 && (d.TS.IsZero() || now.Sub(d.TS.Time) > window) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DeliveryRow is the CSV shape of a delivery log entry
type DeliveryRow struct {
	TS         time.Time `csv:"ts"`
	TruckID    string    `csv:"truck_id"`
	Center     string    `csv:"center"`
	TankID     string    `csv:"tank_id"`
	DeliveredL float64   `csv:"delivered_l"`
	By         string    `csv:"by"`
	Note       string    `csv:"note,omitempty"`
}

// DeliveryRows converts log entries for export
func DeliveryRows(entries []model.Delivery) []DeliveryRow {
	rows := make([]DeliveryRow, 0, len(entries))
	for _, d := range entries {
		rows = append(rows, DeliveryRow{
			TS:         d.TS.Time,
			TruckID:    d.TruckID,
			Center:     d.Center,
			TankID:     d.TankID,
			DeliveredL: d.DeliveredL,
			By:         d.By,
			Note:       d.Note,
		})
	}
	return rows
}
