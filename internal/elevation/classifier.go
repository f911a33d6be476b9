package elevation

// BoundingBox is an inclusive latitude/longitude rectangle. Boxes do not wrap the
// antimeridian; regions crossing it are expressed as two boxes.
type BoundingBox struct {
	Name   string  `json:"name"`
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains reports whether c lies inside the box.
func (b BoundingBox) Contains(c Coordinate) bool {
	return b.MinLat <= c.Lat && c.Lat <= b.MaxLat && b.MinLon <= c.Lon && c.Lon <= b.MaxLon
}

// DefaultDomesticRegions approximates the coverage area of the authoritative
// high-resolution provider: the continental and island territories it serves.
func DefaultDomesticRegions() []BoundingBox {
	return []BoundingBox{
		{Name: "CONUS", MinLat: 24.396308, MaxLat: 49.384358, MinLon: -125.0, MaxLon: -66.93457},
		{Name: "AK", MinLat: 54.0, MaxLat: 71.5, MinLon: -180.0, MaxLon: -129.0},
		{Name: "AK", MinLat: 51.0, MaxLat: 55.5, MinLon: 172.0, MaxLon: 180.0},
		{Name: "AK", MinLat: 51.0, MaxLat: 55.5, MinLon: -180.0, MaxLon: -129.0},
		{Name: "HI", MinLat: 18.0, MaxLat: 22.5, MinLon: -161.0, MaxLon: -154.0},
		{Name: "PR", MinLat: 17.8, MaxLat: 18.6, MinLon: -67.5, MaxLon: -65.0},
		{Name: "VI", MinLat: 17.6, MaxLat: 18.5, MinLon: -65.2, MaxLon: -64.5},
		{Name: "GU", MinLat: 13.2, MaxLat: 13.7, MinLon: 144.6, MaxLon: 145.0},
		{Name: "AS", MinLat: -14.7, MaxLat: -14.0, MinLon: -171.2, MaxLon: -169.4},
		{Name: "MP", MinLat: 14.0, MaxLat: 20.6, MinLon: 144.8, MaxLon: 146.1},
	}
}

// DefaultOceanRegions is a coarse open-water heuristic, not bathymetric truth.
func DefaultOceanRegions() []BoundingBox {
	return []BoundingBox{
		{Name: "central-pacific", MinLat: -30, MaxLat: 30, MinLon: -180, MaxLon: -130},
		{Name: "central-atlantic", MinLat: -40, MaxLat: 40, MinLon: -50, MaxLon: -10},
		{Name: "southern-ocean", MinLat: -90, MaxLat: -60.000001, MinLon: -180, MaxLon: 180},
		{Name: "central-indian", MinLat: -30, MaxLat: 10, MinLon: 60, MaxLon: 90},
	}
}

// Classifier assigns coverage classes. It does no I/O.
type Classifier struct {
	domestic []BoundingBox
	ocean    []BoundingBox
}

// NewClassifier builds a classifier. Nil slices select the defaults; pass an empty,
// non-nil slice to disable a class entirely.
func NewClassifier(domestic, ocean []BoundingBox) *Classifier {
	if domestic == nil {
		domestic = DefaultDomesticRegions()
	}
	if ocean == nil {
		ocean = DefaultOceanRegions()
	}
	return &Classifier{domestic: domestic, ocean: ocean}
}

// Classify returns the coverage class of (lat, lon). The ocean flag wins over the
// domestic one so water points inside domestic boxes are routed to providers that
// degrade gracefully over water.
func (c *Classifier) Classify(lat, lon float64) Classification {
	p := Coordinate{Lat: lat, Lon: lon}
	switch {
	case c.IsOcean(p):
		return ClassOcean
	case c.IsDomestic(p):
		return ClassDomestic
	default:
		return ClassInternational
	}
}

// IsDomestic reports whether p falls inside any domestic region.
func (c *Classifier) IsDomestic(p Coordinate) bool {
	return c.Region(p) != ""
}

// IsOcean reports whether p falls inside any open-water box.
func (c *Classifier) IsOcean(p Coordinate) bool {
	for _, b := range c.ocean {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

// Region returns the name of the first domestic region containing p, or "".
func (c *Classifier) Region(p Coordinate) string {
	for _, b := range c.domestic {
		if b.Contains(p) {
			return b.Name
		}
	}
	return ""
}
