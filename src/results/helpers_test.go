package results

import (
	"testing"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/google/go-cmp/cmp"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
}

func equals(t *testing.T, exp, act interface{}) {
	t.Helper()
	if diff := cmp.Diff(exp, act); diff != "" {
		t.Fatalf("mismatch (-exp +act):\n%s", diff)
	}
}

func testGrasps() []datastructures.ObjectGrasp {
	pose := datastructures.IdentityPose()
	pose[0][3] = 0.1
	pose[2][3] = 0.5
	return []datastructures.ObjectGrasp{
		{
			Object: "mug",
			Input:  "/data/scenes/0.npy",
			Found:  true,
			Grasp: datastructures.Grasp{
				Pose:    pose,
				Score:   0.75,
				Contact: [3]float64{0.1, 0, 0.48},
				Opening: 0.04,
			},
			NumCandidates: 12,
		},
		{Object: "bowl", Input: "/data/scenes/0.npy"},
	}
}
