// Package types holds small value objects shared by every module.
package types

// ID identifies a driver, rider, or trip.
type ID string

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
