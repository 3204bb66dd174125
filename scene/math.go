package scene

import "github.com/chewxy/math32"

type Vec3 [3]float32

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func (v Vec3) Len() float32 {
	return math32.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Normalize returns v scaled to unit length, or v itself when it has none.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Mat4 is a 4x4 matrix in column-major order.
type Mat4 [16]float32

func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func Translation(v Vec3) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v[0], v[1], v[2]
	return m
}

func Scaling(v Vec3) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v[0], v[1], v[2]
	return m
}

// RotationY rotates by rad radians around the y axis.
func RotationY(rad float32) Mat4 {
	s, c := math32.Sin(rad), math32.Cos(rad)

	m := Identity()
	m[0], m[2] = c, -s
	m[8], m[10] = s, c
	return m
}

// Perspective builds a projection matrix from a vertical field of view in
// degrees.
func Perspective(fov, aspect, near, far float32) Mat4 {
	f := 1 / math32.Tan(fov*math32.Pi/360)

	var m Mat4
	m[0] = f / aspect
	m[5] = f
	m[10] = (far + near) / (near - far)
	m[11] = -1
	m[14] = 2 * far * near / (near - far)
	return m
}

// Mul returns m * o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var r Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * o[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

func (m Mat4) Translation() Vec3 {
	return Vec3{m[12], m[13], m[14]}
}

// ApproxEqual compares element wise within eps.
func (m Mat4) ApproxEqual(o Mat4, eps float32) bool {
	for i := range m {
		if math32.Abs(m[i]-o[i]) > eps {
			return false
		}
	}
	return true
}
