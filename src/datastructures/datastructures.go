package datastructures

// Pose is a 4x4 rigid transform of the gripper relative to the camera.
type Pose [4][4]float64

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	var p Pose
	for i := 0; i < 4; i++ {
		p[i][i] = 1
	}
	return p
}

// Translation returns the translation column of the pose.
func (p Pose) Translation() [3]float64 {
	return [3]float64{p[0][3], p[1][3], p[2][3]}
}

// Flat returns the pose in row major order.
func (p Pose) Flat() []float64 {
	res := make([]float64, 0, 16)
	for _, row := range p {
		res = append(res, row[:]...)
	}
	return res
}

type Grasp struct {
	Pose    Pose       `json:"pose"`
	Score   float32    `json:"score"`
	Contact [3]float64 `json:"contact"`
	Opening float64    `json:"opening"`
}

// ObjectGrasp is the best grasp found for a single object. If Found is false
// the grasp is the zero sentinel.
type ObjectGrasp struct {
	Object        string `json:"object"`
	Input         string `json:"input"`
	Found         bool   `json:"found"`
	Grasp         Grasp  `json:"grasp"`
	NumCandidates int    `json:"num_candidates"`
}

type ModelInfo struct {
	Build     int32       `json:"build"`
	Created   string      `json:"created"`
	TrainedOn []string    `json:"trained_on"`
	BasedOn   string      `json:"based_on"`
	Tensors   TensorNames `json:"tensors"`
}

type TensorNames struct {
	PointClouds string `json:"pointclouds"`
	IsTraining  string `json:"is_training"`
	GraspsCam   string `json:"pred_grasps_cam"`
	Scores      string `json:"pred_scores"`
	Points      string `json:"pred_points"`
	Offsets     string `json:"offset_pred"`
}

type GraspRequest struct {
	Uuid     string `json:"uuid"`
	Object   string `json:"object"`
	Filename string `json:"filename"`
	Created  int64  `json:"created"`
}

type GraspResult struct {
	Uuid      string      `json:"uuid"`
	Result    ObjectGrasp `json:"result"`
	Error     string      `json:"error"`
	ModelInfo ModelInfo   `json:"model_info"`
}

type GraspMeResult struct {
	Found     bool      `json:"found"`
	Pose      Pose      `json:"pose"`
	Score     float32   `json:"score"`
	Error     string    `json:"error"`
	ModelInfo ModelInfo `json:"model_info"`
}
