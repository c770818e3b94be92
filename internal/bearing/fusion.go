package bearing

import "math"

// Vector is a 3-axis sensor reading in device coordinates.
type Vector [3]float64

// RotationMatrix computes the row-major rotation matrix that maps device
// coordinates to world coordinates (east, north, up) from a gravity and a
// geomagnetic vector. It reports false in free fall or when the field is
// nearly parallel to gravity.
func RotationMatrix(gravity, geomagnetic Vector) ([9]float64, bool) {
	ax, ay, az := gravity[0], gravity[1], gravity[2]
	ex, ey, ez := geomagnetic[0], geomagnetic[1], geomagnetic[2]

	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if normH < 0.1 {
		return [9]float64{}, false
	}
	normA := math.Sqrt(ax*ax + ay*ay + az*az)
	if normA == 0 {
		return [9]float64{}, false
	}

	hx, hy, hz = hx/normH, hy/normH, hz/normH
	ax, ay, az = ax/normA, ay/normA, az/normA

	mx := ay*hz - az*hy
	my := az*hx - ax*hz
	mz := ax*hy - ay*hx

	return [9]float64{
		hx, hy, hz,
		mx, my, mz,
		ax, ay, az,
	}, true
}

// Orientation returns azimuth, pitch and roll in radians. Azimuth is the
// rotation around the up axis, zero when the device's y axis points to
// magnetic north, in [-pi, pi].
func Orientation(r [9]float64) (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(r[1], r[4])
	pitch = math.Asin(-r[7])
	roll = math.Atan2(-r[6], r[8])
	return azimuth, pitch, roll
}
