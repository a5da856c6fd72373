// Package qr decodes the URLs printed on truck, center and warehouse QR
// labels into typed payloads.
package qr

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnrecognized is returned for input that is not a known QR payload
var ErrUnrecognized = errors.New("QR not recognized")

// DefaultWarehouseID is used when a warehouse label carries no id
const DefaultWarehouseID = "main"

// Kind names a payload variant as it appears in the type parameter
type Kind string

const (
	KindTruck     Kind = "truck"
	KindCenter    Kind = "center"
	KindWarehouse Kind = "warehouse"
)

// Payload is one of Truck, Center or Warehouse
type Payload interface {
	Kind() Kind
	isPayload()
}

// Truck is scanned to claim a route
type Truck struct {
	TruckID string
}

// Center is scanned on arrival at a stop. TankID is empty when the label
// identifies the center only.
type Center struct {
	CenterID string
	TankID   string
}

// Warehouse is scanned to close a route on return
type Warehouse struct {
	ID string
}

func (Truck) Kind() Kind     { return KindTruck }
func (Center) Kind() Kind    { return KindCenter }
func (Warehouse) Kind() Kind { return KindWarehouse }

func (Truck) isPayload()     {}
func (Center) isPayload()    {}
func (Warehouse) isPayload() {}

// Parse decodes raw scanner text. It accepts absolute URLs, relative URLs
// such as /scan?type=truck&id=TR-01 and bare query strings.
func Parse(raw string) (Payload, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrUnrecognized
	}

	query, err := queryOf(text)
	if err != nil {
		return nil, ErrUnrecognized
	}

	switch Kind(strings.ToLower(query.Get("type"))) {
	case KindTruck:
		id := first(query, "id", "truck_id")
		if id == "" {
			return nil, ErrUnrecognized
		}
		return Truck{TruckID: id}, nil
	case KindCenter:
		centerID := first(query, "center_id", "id")
		if centerID == "" {
			return nil, ErrUnrecognized
		}
		return Center{CenterID: centerID, TankID: strings.TrimSpace(query.Get("tank_id"))}, nil
	case KindWarehouse:
		id := first(query, "id")
		if id == "" {
			id = DefaultWarehouseID
		}
		return Warehouse{ID: id}, nil
	}
	return nil, ErrUnrecognized
}

// Format renders the canonical label URL query for a payload. Parse(Format(p))
// yields p again.
func Format(p Payload) string {
	v := url.Values{}
	switch p := p.(type) {
	case Truck:
		v.Set("type", string(KindTruck))
		v.Set("id", p.TruckID)
	case Center:
		v.Set("type", string(KindCenter))
		v.Set("center_id", p.CenterID)
		if p.TankID != "" {
			v.Set("tank_id", p.TankID)
		}
	case Warehouse:
		v.Set("type", string(KindWarehouse))
		v.Set("id", p.ID)
	default:
		return ""
	}
	return "/scan?" + v.Encode()
}

func queryOf(text string) (url.Values, error) {
	if !strings.Contains(text, "?") && !strings.Contains(text, "://") {
		return url.ParseQuery(text)
	}
	u, err := url.Parse(text)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(u.RawQuery)
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
