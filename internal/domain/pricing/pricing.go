package pricing

import (
	"math"
	"time"
)

type VehicleType string

const (
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleCar        VehicleType = "car"
	VehicleSUV        VehicleType = "suv"
	VehicleLuxury     VehicleType = "luxury"
)

// Valid reports whether t is one of the known vehicle types.
func (t VehicleType) Valid() bool {
	switch t {
	case VehicleMotorcycle, VehicleCar, VehicleSUV, VehicleLuxury:
		return true
	}
	return false
}

const (
	earthRadiusKm    = 6371.0
	roundingUnit     = 1000
	peakMultiplier   = 1.2
	defaultAgeYears  = 3
	priceUpperFactor = 12 // MaxPrice default = estimate * 12 / 10
)

var ratesPerKm = map[VehicleType]int64{
	VehicleMotorcycle: 5000,
	VehicleCar:        10000,
	VehicleSUV:        12000,
	VehicleLuxury:     15000,
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Vehicle is the pricing view of a vehicle. Year 0 is treated as a 3 year old car.
type Vehicle struct {
	Type VehicleType
	Year int
}

type Breakdown struct {
	DistanceKm         float64 `json:"distanceKm"`
	BaseRate           int64   `json:"baseRate"`
	PeakHourMultiplier float64 `json:"peakHourMultiplier"`
	QualityMultiplier  float64 `json:"qualityMultiplier"`
}

type Estimate struct {
	Price     int64     `json:"price"`
	Breakdown Breakdown `json:"breakdown"`
}

// Engine computes trip prices. It does no I/O; Now and Location are injectable for tests.
type Engine struct {
	Now      func() time.Time
	Location *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	return &Engine{Now: time.Now, Location: loc}
}

func (e *Engine) Estimate(start, end Point, v Vehicle, departure time.Time) Estimate {
	dist := DistanceKm(start, end)
	rate := RateFor(v.Type)
	peak := e.peakMultiplier(departure)
	quality := e.qualityMultiplier(v.Year)

	raw := dist * float64(rate) * peak * quality
	return Estimate{
		Price: roundUp(raw),
		Breakdown: Breakdown{
			DistanceKm:         math.Round(dist*10) / 10,
			BaseRate:           rate,
			PeakHourMultiplier: peak,
			QualityMultiplier:  quality,
		},
	}
}

// DefaultMaxPrice is the ceiling applied when a passenger does not set one.
func DefaultMaxPrice(estimate int64) int64 {
	return estimate * priceUpperFactor / 10
}

// RateFor returns the per-km rate, falling back to the car rate for unknown types.
func RateFor(t VehicleType) int64 {
	if r, ok := ratesPerKm[t]; ok {
		return r
	}
	return ratesPerKm[VehicleCar]
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func (e *Engine) peakMultiplier(departure time.Time) float64 {
	loc := e.Location
	if loc == nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	h := departure.In(loc).Hour()
	if (h >= 7 && h <= 9) || (h >= 16 && h <= 19) {
		return peakMultiplier
	}
	return 1.0
}

func (e *Engine) qualityMultiplier(year int) float64 {
	age := defaultAgeYears
	if year > 0 {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		age = now().Year() - year
	}
	switch {
	case age <= 2:
		return 1.1
	case age <= 5:
		return 1.0
	default:
		return 0.9
	}
}

func roundUp(raw float64) int64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	units := math.Ceil(raw / roundingUnit)
	return int64(units) * roundingUnit
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
