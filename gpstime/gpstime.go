// Package gpstime provides the GPS time-of-week arithmetic shared by
// ephemeris clock and orbit computations: reducing a time difference to
// the half-week window the ICD's polynomials assume.
package gpstime

// SecondsPerWeek is the number of seconds in one GPS week.
const SecondsPerWeek = 604800

// halfWeek is the boundary TimeFromEpoch wraps around: IS-GPS-200 defines
// the corrected time difference as lying within +/-302400s of a reference
// epoch, wrapping at the week boundary.
const halfWeek = SecondsPerWeek / 2

// TimeFromEpoch returns t-tRef, wrapped into [-302400, 302400] by adding or
// subtracting whole GPS weeks. t and tRef are normally seconds of GPS week,
// in which case at most one week is added or subtracted.
func TimeFromEpoch(t, tRef float64) float64 {
	d := t - tRef
	for d > halfWeek {
		d -= SecondsPerWeek
	}
	for d < -halfWeek {
		d += SecondsPerWeek
	}
	return d
}
