package model

// FlatTanks returns every tank with its center id and name filled in. The
// flat list from the server is used when present, otherwise the centers
// are walked.
func (s *Snapshot) FlatTanks() []Tank {
	if len(s.Tanks) > 0 {
		return s.Tanks
	}
	var tanks []Tank
	for _, c := range s.Centers {
		for _, t := range c.Tanks {
			if t.CenterID == "" {
				t.CenterID = c.ID
			}
			if t.CenterName == "" {
				t.CenterName = c.Name
			}
			tanks = append(tanks, t)
		}
	}
	return tanks
}

// Center finds a center by id
func (s *Snapshot) Center(id string) (*Center, bool) {
	for i := range s.Centers {
		if s.Centers[i].ID == id {
			return &s.Centers[i], true
		}
	}
	return nil, false
}

// CenterName returns the display name of a center, or the id when unknown
func (s *Snapshot) CenterName(id string) string {
	if c, ok := s.Center(id); ok && c.Name != "" {
		return c.Name
	}
	return id
}

// Tank finds a tank by center and tank id
func (s *Snapshot) Tank(centerID, tankID string) (*Tank, bool) {
	if c, ok := s.Center(centerID); ok {
		if t, ok := c.Tank(tankID); ok {
			return t, true
		}
	}
	for i := range s.Tanks {
		if s.Tanks[i].CenterID == centerID && s.Tanks[i].ID == tankID {
			return &s.Tanks[i], true
		}
	}
	return nil, false
}

// Truck finds a truck by id
func (s *Snapshot) Truck(id string) (*Truck, bool) {
	for i := range s.Trucks {
		if s.Trucks[i].ID == id {
			return &s.Trucks[i], true
		}
	}
	return nil, false
}

// Route finds a route by id among active routes and history
func (s *Snapshot) Route(id string) (*Route, bool) {
	for i := range s.Routes {
		if s.Routes[i].ID == id {
			return &s.Routes[i], true
		}
	}
	for i := range s.RouteHistory {
		if s.RouteHistory[i].ID == id {
			return &s.RouteHistory[i], true
		}
	}
	return nil, false
}

// OpenRoutes returns the non-finalized routes assigned to the worker
func (s *Snapshot) OpenRoutes(worker string) []*Route {
	var routes []*Route
	for i := range s.Routes {
		r := &s.Routes[i]
		if r.Worker == worker && !r.Finalized() {
			routes = append(routes, r)
		}
	}
	return routes
}

// PlannedRouteForTruck returns the unclaimed route waiting on the truck
func (s *Snapshot) PlannedRouteForTruck(truckID string) (*Route, bool) {
	for i := range s.Routes {
		r := &s.Routes[i]
		if r.TruckID == truckID && r.Status == RoutePlanned {
			return r, true
		}
	}
	return nil, false
}

// AvailableTrucks returns parked trucks with no route bound
func (s *Snapshot) AvailableTrucks() []Truck {
	var trucks []Truck
	for _, t := range s.Trucks {
		if t.Available() {
			trucks = append(trucks, t)
		}
	}
	return trucks
}

// AllRoutes returns active routes followed by history
func (s *Snapshot) AllRoutes() []Route {
	routes := make([]Route, 0, len(s.Routes)+len(s.RouteHistory))
	routes = append(routes, s.Routes...)
	return append(routes, s.RouteHistory...)
}
