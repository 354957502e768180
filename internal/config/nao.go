package config

// NAO H25 joint limits, in radians, from the Aldebaran hardware
// documentation.
const (
	HeadYawMax   = 2.0857
	HeadPitchMin = -0.6720
	HeadPitchMax = 0.5149

	ShoulderPitchMax = 2.0857
	ShoulderRollMin  = -0.3142
	ShoulderRollMax  = 1.3265
	ElbowYawMax      = 2.0857
	ElbowRollMin     = -1.5446
	ElbowRollMax     = -0.0349
	WristYawMax      = 1.8238

	HipYawPitchMin = -1.145303
	HipYawPitchMax = 0.740810
	HipRollMin     = -0.379472
	HipRollMax     = 0.790477
	HipPitchMin    = -1.535889
	HipPitchMax    = 0.484090
)

// joint builds a degree whose default is the position nearest zero.
func joint(name string, min, max float64) Degree {
	def := 0.0
	if def < min {
		def = min
	}
	if def > max {
		def = max
	}
	return Degree{Name: name, Min: min, Max: max, Default: def}
}

// DefaultProfile returns the NAO H25 body.
func DefaultProfile() *Profile {
	return &Profile{
		Robot: "nao-h25",
		Components: []Component{
			{Name: "head.yaw", Kind: KindJoint, Degrees: []Degree{joint("yaw", -HeadYawMax, HeadYawMax)}},
			{Name: "head.pitch", Kind: KindJoint, Degrees: []Degree{joint("pitch", HeadPitchMin, HeadPitchMax)}},
			{Name: "head.eyes", Kind: KindLEDs, LEDs: []string{"left", "right"}},

			{Name: "larm.shoulder", Kind: KindJoint, Degrees: []Degree{
				joint("pitch", -ShoulderPitchMax, ShoulderPitchMax),
				joint("roll", ShoulderRollMin, ShoulderRollMax),
			}},
			{Name: "larm.elbow", Kind: KindJoint, Degrees: []Degree{
				joint("yaw", -ElbowYawMax, ElbowYawMax),
				joint("roll", ElbowRollMin, ElbowRollMax),
			}},
			{Name: "larm.wrist", Kind: KindJoint, Degrees: []Degree{joint("yaw", -WristYawMax, WristYawMax)}},
			{Name: "larm.hand", Kind: KindJoint, Degrees: []Degree{joint("grip", 0, 1)}},

			// The right arm mirrors the left: roll ranges flip sign.
			{Name: "rarm.shoulder", Kind: KindJoint, Degrees: []Degree{
				joint("pitch", -ShoulderPitchMax, ShoulderPitchMax),
				joint("roll", -ShoulderRollMax, -ShoulderRollMin),
			}},
			{Name: "rarm.elbow", Kind: KindJoint, Degrees: []Degree{
				joint("yaw", -ElbowYawMax, ElbowYawMax),
				joint("roll", -ElbowRollMax, -ElbowRollMin),
			}},
			{Name: "rarm.wrist", Kind: KindJoint, Degrees: []Degree{joint("yaw", -WristYawMax, WristYawMax)}},
			{Name: "rarm.hand", Kind: KindJoint, Degrees: []Degree{joint("grip", 0, 1)}},

			{Name: "lleg.hip_yaw_pitch", Kind: KindJoint, Degrees: []Degree{joint("yaw_pitch", HipYawPitchMin, HipYawPitchMax)}},
			{Name: "lleg.hip", Kind: KindJoint, Degrees: []Degree{
				joint("roll", HipRollMin, HipRollMax),
				joint("pitch", HipPitchMin, HipPitchMax),
			}},
			{Name: "lleg.knee", Kind: KindJoint, Degrees: []Degree{joint("pitch", -0.092346, 2.112528)}},
			{Name: "lleg.ankle", Kind: KindJoint, Degrees: []Degree{
				joint("pitch", -1.189516, 0.922747),
				joint("roll", -0.397880, 0.769001),
			}},

			{Name: "rleg.hip_yaw_pitch", Kind: KindJoint, Degrees: []Degree{joint("yaw_pitch", HipYawPitchMin, HipYawPitchMax)}},
			{Name: "rleg.hip", Kind: KindJoint, Degrees: []Degree{
				joint("roll", -HipRollMax, -HipRollMin),
				joint("pitch", HipPitchMin, HipPitchMax),
			}},
			{Name: "rleg.knee", Kind: KindJoint, Degrees: []Degree{joint("pitch", -0.103083, 2.120198)}},
			{Name: "rleg.ankle", Kind: KindJoint, Degrees: []Degree{
				joint("pitch", -1.186448, 0.932056),
				joint("roll", -0.768992, 0.397935),
			}},

			{Name: "chest.button", Kind: KindGauge, Degrees: []Degree{{Name: "pressed", Min: 0, Max: 1}}},
			{Name: "battery.charge", Kind: KindGauge, Degrees: []Degree{{Name: "charge", Min: 0, Max: 1, Default: 1}}},
			{Name: "system.version", Kind: KindLabel, Text: "2.1.4.13"},
		},
	}
}
