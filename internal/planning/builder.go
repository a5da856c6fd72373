package planning

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/agsys/depot-dispatch/internal/cloud"
	"github.com/agsys/depot-dispatch/internal/model"
)

var validate = validator.New()

var (
	ErrNoWorker         = errors.New("select a worker")
	ErrNoTruck          = errors.New("select a truck")
	ErrNoStops          = errors.New("add at least one stop with liters")
	ErrUnknownWorker    = errors.New("unknown worker")
	ErrUnknownTruck     = errors.New("unknown truck")
	ErrTruckUnavailable = errors.New("truck is not available")
	ErrUnknownTank      = errors.New("unknown center tank")
	ErrOverCapacity     = errors.New("load exceeds truck capacity")
)

// StopDraft is one row of the manual route form. Nil liters take the
// tank's current deficit.
type StopDraft struct {
	CenterID string   `json:"center_id" validate:"required"`
	TankID   string   `json:"tank_id" validate:"required"`
	Liters   *float64 `json:"liters,omitempty"`
	Product  string   `json:"product,omitempty"`
}

// RouteDraft is the manual route form
type RouteDraft struct {
	Worker      string      `json:"worker" validate:"required"`
	TruckID     string      `json:"truck_id" validate:"required"`
	Origin      string      `json:"origin,omitempty"`
	ProductType string      `json:"product_type,omitempty"`
	Stops       []StopDraft `json:"stops" validate:"dive"`
}

// BuildPlan checks the draft against the snapshot and produces the creation
// request. Stops left at zero liters are dropped; the declared load is the
// sum of the remaining stops.
func BuildPlan(snap *model.Snapshot, draft *RouteDraft) (*cloud.PlanRequest, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	if len(snap.Workers) > 0 && !knownWorker(snap, draft.Worker) {
		return nil, errors.Wrap(ErrUnknownWorker, draft.Worker)
	}
	truck, ok := snap.Truck(draft.TruckID)
	if !ok {
		return nil, errors.Wrap(ErrUnknownTruck, draft.TruckID)
	}
	if !truck.Available() {
		return nil, errors.Wrapf(ErrTruckUnavailable, "%s is %s", truck.ID, truck.Status.Label())
	}

	req := &cloud.PlanRequest{
		Worker:      draft.Worker,
		TruckID:     draft.TruckID,
		Origin:      draft.Origin,
		ProductType: draft.ProductType,
	}
	for _, d := range draft.Stops {
		tank, ok := snap.Tank(d.CenterID, d.TankID)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownTank, "%s/%s", d.CenterID, d.TankID)
		}
		liters := tank.Deficit()
		if d.Liters != nil {
			liters = *d.Liters
		}
		if liters <= 0 {
			continue
		}
		product := d.Product
		if product == "" {
			product = tank.Product
		}
		req.Stops = append(req.Stops, cloud.PlanStop{
			CenterID: d.CenterID,
			TankID:   d.TankID,
			Liters:   liters,
			Product:  product,
		})
		req.LoadL += liters
	}
	if len(req.Stops) == 0 {
		return nil, ErrNoStops
	}
	if req.ProductType == "" {
		req.ProductType = req.Stops[0].Product
	}
	if truck.CapacityL > 0 && req.LoadL > truck.CapacityL {
		return nil, errors.Wrapf(ErrOverCapacity, "%.0f L on %s (%.0f L)", req.LoadL, truck.ID, truck.CapacityL)
	}
	return req, nil
}

// DraftFromUrgent prefills a draft with every urgent tank of a center,
// liters left to default to each deficit
func DraftFromUrgent(worker, truckID string, center UrgentCenter) *RouteDraft {
	draft := &RouteDraft{Worker: worker, TruckID: truckID}
	for _, t := range center.Tanks {
		draft.Stops = append(draft.Stops, StopDraft{CenterID: center.CenterID, TankID: t.TankID, Product: t.Product})
	}
	return draft
}

func validateDraft(draft *RouteDraft) error {
	err := validate.Struct(draft)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate route draft")
	}
	for _, fe := range verrs {
		switch fe.StructField() {
		case "Worker":
			return ErrNoWorker
		case "TruckID":
			return ErrNoTruck
		}
	}
	return errors.Wrapf(ErrUnknownTank, "stop %s", verrs[0].Namespace())
}

func knownWorker(snap *model.Snapshot, name string) bool {
	for _, w := range snap.Workers {
		if w.Username == name {
			return true
		}
	}
	return false
}
