// Package ephemeris decodes GPS navigation-message subframes 1-3 and
// subframe 4 page 18 into a per-satellite Record, and evaluates the
// WGS-84 satellite position and clock-correction equations from it.
//
// Field layouts and scale factors follow IS-GPS-200; see the per-field
// comments below for the exact power-of-two scaling each carries.
package ephemeris

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/samchugit/zynq-gpsnav/bitpack"
	"github.com/samchugit/zynq-gpsnav/gpstime"
)

// ICD and WGS-84 constants. Pi is the truncated constant the ICD's
// reference implementations use rather than math.Pi, kept bit-for-bit
// identical to the source ICD so semicircle-to-radian conversions match
// reference decoders exactly.
const (
	Pi           = 3.1415926535898
	Mu           = 3.986005e14          // WGS-84 earth gravitational constant, m^3/s^2
	OmegaE       = 7.2921151467e-5      // WGS-84 earth rotation rate, rad/s
	SpeedOfLight = 2.99792458e8         // m/s
	relFCoeff    = -4.442807633e-10     // -2*sqrt(Mu)/SpeedOfLight^2, relativistic clock term
	iono18Page   = 0x78                 // subframe 4 page number carrying ionospheric coefficients
	keplerEps    = 1e-10                // Kepler iteration convergence threshold, radians
)

// Record holds the decoded ephemeris for one satellite. It is mutated
// only by Subframe and must not be copied while a Subframe call may be in
// flight; the zero value is not Valid.
type Record struct {
	// Subframe 1
	week uint32
	iodc uint32
	toc  uint32
	tgd  float64
	af   [3]float64

	// Subframe 2
	iode2  uint32
	toe    uint32
	crs    float64
	deltaN float64
	m0     float64
	cuc    float64
	ecc    float64
	cus    float64
	sqrtA  float64

	// Subframe 3
	iode3    uint32
	cic      float64
	omega0   float64
	cis      float64
	i0       float64
	crc      float64
	argPeri  float64
	omegaDot float64
	idot     float64

	// Subframe 4 page 18 - ionospheric delay model
	alpha [4]float64
	beta  [4]float64

	// Tow is the truncated (17-bit) Time-of-Week from the HOW word of the
	// most recently decoded subframe. Per IS-GPS-200 this is the TOW count
	// at the *next* subframe's epoch, not the current one; callers must
	// not treat it as "now".
	Tow uint32
}

// Subframe decodes a parity-validated, polarity-corrected 300-bit
// subframe (one bit per byte, 0 or 1) and updates the matching fields of
// r. Subframes 1-3 and subframe 4 page 18 are handled; subframe 5 and
// other subframe-4 pages are not yet implemented and are silently
// ignored, per IS-GPS-200 ambiguity left open for this decoder.
func (r *Record) Subframe(buf []byte) {
	id := buf[49]<<2 + buf[50]<<1 + buf[51]

	nav := repack(buf)
	r.Tow = bitpack.Pack(nav[3], nav[4], nav[5]).U(17)

	switch id {
	case 1:
		r.subframe1(nav)
	case 2:
		r.subframe2(nav)
	case 3:
		r.subframe3(nav)
	case 4:
		r.subframe4(nav)
	case 5:
		// SV health / almanac data; not decoded by this receiver.
	}
}

// repack strips the 6 parity bits from each of the subframe's ten 30-bit
// words and packs the remaining 240 data bits 8-at-a-time, MSB first,
// into the 30-byte ICD field layout that subframeN below index into.
func repack(buf []byte) [30]byte {
	var nav [30]byte
	pos, ni := 0, 0
	for word := 0; word < 10; word++ {
		for j := 0; j < 3; j++ {
			var b byte
			for k := 0; k < 8; k++ {
				b = b<<1 | buf[pos]
				pos++
			}
			nav[ni] = b
			ni++
		}
		pos += 6 // skip this word's parity bits
	}
	return nav
}

func (r *Record) subframe1(nav [30]byte) {
	r.week = bitpack.Pack(nav[6], nav[7]).U(10)
	r.tgd = math.Pow(2, -31) * float64(bitpack.Pack(nav[20]).S(8))
	r.iodc = bitpack.Pack(nav[21]).U(8)
	r.toc = (1 << 4) * bitpack.Pack(nav[22], nav[23]).U(16)
	r.af[2] = math.Pow(2, -55) * float64(bitpack.Pack(nav[24]).S(8))
	r.af[1] = math.Pow(2, -43) * float64(bitpack.Pack(nav[25], nav[26]).S(16))
	r.af[0] = math.Pow(2, -31) * float64(bitpack.Pack(nav[27], nav[28], nav[29]).S(22))
}

func (r *Record) subframe2(nav [30]byte) {
	r.iode2 = bitpack.Pack(nav[6]).U(8)
	r.crs = math.Pow(2, -5) * float64(bitpack.Pack(nav[7], nav[8]).S(16))
	r.deltaN = math.Pow(2, -43) * float64(bitpack.Pack(nav[9], nav[10]).S(16)) * Pi
	r.m0 = math.Pow(2, -31) * float64(bitpack.Pack(nav[11], nav[12], nav[13], nav[14]).S(32)) * Pi
	r.cuc = math.Pow(2, -29) * float64(bitpack.Pack(nav[15], nav[16]).S(16))
	r.ecc = math.Pow(2, -33) * float64(bitpack.Pack(nav[17], nav[18], nav[19], nav[20]).U(32))
	r.cus = math.Pow(2, -29) * float64(bitpack.Pack(nav[21], nav[22]).S(16))
	r.sqrtA = math.Pow(2, -19) * float64(bitpack.Pack(nav[23], nav[24], nav[25], nav[26]).U(32))
	r.toe = (1 << 4) * bitpack.Pack(nav[27], nav[28]).U(16)
}

func (r *Record) subframe3(nav [30]byte) {
	r.cic = math.Pow(2, -29) * float64(bitpack.Pack(nav[6], nav[7]).S(16))
	r.omega0 = math.Pow(2, -31) * float64(bitpack.Pack(nav[8], nav[9], nav[10], nav[11]).S(32)) * Pi
	r.cis = math.Pow(2, -29) * float64(bitpack.Pack(nav[12], nav[13]).S(16))
	r.i0 = math.Pow(2, -31) * float64(bitpack.Pack(nav[14], nav[15], nav[16], nav[17]).S(32)) * Pi
	r.crc = math.Pow(2, -5) * float64(bitpack.Pack(nav[18], nav[19]).S(16))
	r.argPeri = math.Pow(2, -31) * float64(bitpack.Pack(nav[20], nav[21], nav[22], nav[23]).S(32)) * Pi
	r.omegaDot = math.Pow(2, -43) * float64(bitpack.Pack(nav[24], nav[25], nav[26]).S(24)) * Pi
	r.iode3 = bitpack.Pack(nav[27]).U(8)
	r.idot = math.Pow(2, -43) * float64(bitpack.Pack(nav[28], nav[29]).S(14)) * Pi
}

func (r *Record) subframe4(nav [30]byte) {
	if bitpack.Pack(nav[6]).U(8) == iono18Page {
		r.loadPage18(nav)
	}
}

// loadPage18 decodes the ionospheric delay model (alpha/beta coefficient
// pairs) carried on subframe 4 page 18.
func (r *Record) loadPage18(nav [30]byte) {
	r.alpha[0] = math.Pow(2, -30) * float64(bitpack.Pack(nav[7]).S(8))
	r.alpha[1] = math.Pow(2, -27) * float64(bitpack.Pack(nav[8]).S(8))
	r.alpha[2] = math.Pow(2, -24) * float64(bitpack.Pack(nav[9]).S(8))
	r.alpha[3] = math.Pow(2, -24) * float64(bitpack.Pack(nav[10]).S(8))
	r.beta[0] = math.Pow(2, 11) * float64(bitpack.Pack(nav[11]).S(8))
	r.beta[1] = math.Pow(2, 14) * float64(bitpack.Pack(nav[12]).S(8))
	r.beta[2] = math.Pow(2, 16) * float64(bitpack.Pack(nav[13]).S(8))
	r.beta[3] = math.Pow(2, 16) * float64(bitpack.Pack(nav[14]).S(8))
}

// semiMajorAxis returns A = (sqrt(A))^2, computed fresh each call since
// sqrtA only changes when a new subframe 2 arrives.
func (r *Record) semiMajorAxis() float64 {
	return r.sqrtA * r.sqrtA
}

// eccentricAnomaly solves Kepler's equation E = M + e*sin(E) for the
// eccentric anomaly at tk seconds from the ephemeris reference epoch, by
// fixed-point iteration starting from E = M. Converges in a handful of
// steps for the realistic eccentricities (e < 0.03) GPS orbits have.
func (r *Record) eccentricAnomaly(tk float64) float64 {
	a := r.semiMajorAxis()
	n0 := math.Sqrt(Mu / (a * a * a))
	n := n0 + r.deltaN
	mk := r.m0 + n*tk

	ek := mk
	for {
		prev := ek
		ek = mk + r.ecc*math.Sin(ek)
		if math.Abs(ek-prev) < keplerEps {
			return ek
		}
	}
}

// GetXYZ returns the satellite's ECEF position in metres at GPS time-of-
// week t, using the subframe 2/3 orbital elements and harmonic
// corrections.
func (r *Record) GetXYZ(t float64) (x, y, z float64) {
	tk := gpstime.TimeFromEpoch(t, float64(r.toe))
	ek := r.eccentricAnomaly(tk)

	vk := math.Atan2(math.Sqrt(1-r.ecc*r.ecc)*math.Sin(ek), math.Cos(ek)-r.ecc)
	aol := vk + r.argPeri

	duk := r.cus*math.Sin(2*aol) + r.cuc*math.Cos(2*aol) // argument-of-latitude correction
	drk := r.crs*math.Sin(2*aol) + r.crc*math.Cos(2*aol) // radius correction
	dik := r.cis*math.Sin(2*aol) + r.cic*math.Cos(2*aol) // inclination correction

	uk := aol + duk
	rk := r.semiMajorAxis()*(1-r.ecc*math.Cos(ek)) + drk
	ik := r.i0 + dik + r.idot*tk

	xkp := rk * math.Cos(uk)
	ykp := rk * math.Sin(uk)

	omegaK := r.omega0 + (r.omegaDot-OmegaE)*tk - OmegaE*float64(r.toe)

	x = xkp*math.Cos(omegaK) - ykp*math.Cos(ik)*math.Sin(omegaK)
	y = xkp*math.Sin(omegaK) + ykp*math.Cos(ik)*math.Cos(omegaK)
	z = ykp * math.Sin(ik)
	return x, y, z
}

// GetClockCorrection returns the satellite clock bias in seconds at GPS
// time-of-week t, including the relativistic correction and group delay.
func (r *Record) GetClockCorrection(t float64) float64 {
	tk := gpstime.TimeFromEpoch(t, float64(r.toe))
	ek := r.eccentricAnomaly(tk)
	relCorrection := relFCoeff * r.ecc * r.sqrtA * math.Sin(ek)

	tc := gpstime.TimeFromEpoch(t, float64(r.toc))
	return r.af[0] + r.af[1]*tc + r.af[2]*tc*tc + relCorrection - r.tgd
}

// Valid reports whether subframes 1, 2, and 3 all carry the same
// issue-of-data, i.e. the record describes one self-consistent ephemeris
// epoch rather than a mix of an old and a new upload.
func (r *Record) Valid() bool {
	return r.iodc != 0 && r.iodc == r.iode2 && r.iodc == r.iode3
}

// LogFields returns the decoded subframe 1-3 parameters as logrus.Fields
// for structured diagnostic logging.
func (r *Record) LogFields() logrus.Fields {
	return logrus.Fields{
		"week": r.week, "iodc": r.iodc, "toc": r.toc, "tgd": r.tgd, "af0": r.af[0], "af1": r.af[1], "af2": r.af[2],
		"iode2": r.iode2, "toe": r.toe, "crs": r.crs, "deltaN": r.deltaN, "m0": r.m0, "cuc": r.cuc, "ecc": r.ecc,
		"cus": r.cus, "sqrtA": r.sqrtA,
		"iode3": r.iode3, "cic": r.cic, "omega0": r.omega0, "cis": r.cis, "i0": r.i0, "crc": r.crc,
		"argPeri": r.argPeri, "omegaDot": r.omegaDot, "idot": r.idot,
		"valid": r.Valid(),
	}
}
