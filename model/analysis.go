package model

// FaceRegion 人脸定位结果
type FaceRegion struct {
	Found      bool    `json:"found"`
	Confidence float64 `json:"confidence"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// FeatureVector 取证特征向量，键集合由特征提取器的固定schema决定
type FeatureVector map[string]float64

// Scores 启发式分数与可选的深度模型分数
type Scores struct {
	HeuristicDeepfakeScore float64   `json:"heuristic_deepfake_score"`
	DeepModelScore         *float64  `json:"deep_model_score,omitempty"`
	DeepModelProbs         []float64 `json:"deep_model_probs,omitempty"`
}

// AttributionMatch 单个家族的相似度匹配
type AttributionMatch struct {
	Family     string  `json:"family"`
	Similarity float64 `json:"similarity"`
}

// QualityFlags 质量门控结果
type QualityFlags struct {
	FaceFound           bool     `json:"face_found"`
	FaceConfidence      float64  `json:"face_confidence"`
	MinSideOK           bool     `json:"min_side_ok"`
	Flags               []string `json:"flags"`
	AcceptedForLearning bool     `json:"accepted_for_learning"`
	EnrolledFamily      string   `json:"enrolled_family,omitempty"`
}

// Artifacts 外部可视化协作者生成的文件引用
type Artifacts struct {
	HeatmapURL string `json:"heatmap_url,omitempty"`
	OverlayURL string `json:"overlay_url,omitempty"`
}

// AnalysisResult 单张图片的完整分析结果
type AnalysisResult struct {
	ID          string             `json:"id"`
	Filename    string             `json:"received_filename,omitempty"`
	Face        FaceRegion         `json:"face"`
	Quality     QualityFlags       `json:"quality"`
	Scores      Scores             `json:"scores"`
	Features    FeatureVector      `json:"features"`
	Attribution []AttributionMatch `json:"attribution_topk"`
	Files       Artifacts          `json:"files"`
	Exif        map[string]string  `json:"exif,omitempty"`
	Notes       []string           `json:"notes"`
}

// BatchItem 批处理中单项的结果，success与error互斥
type BatchItem struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  *AnalysisResult `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BatchResult 批处理响应，结果顺序与提交顺序一致
type BatchResult struct {
	BatchID     string      `json:"batch_id"`
	TotalImages int         `json:"total_images"`
	Results     []BatchItem `json:"results"`
}

// FamilyStats 单个家族的只读统计
type FamilyStats struct {
	Name        string  `json:"name"`
	SampleCount int     `json:"sample_count"`
	LastUpdated *string `json:"last_updated"`
}

// AttributionStats 指纹库整体统计
type AttributionStats struct {
	TotalFamilies int           `json:"total_families"`
	TotalSamples  int           `json:"total_samples"`
	Families      []FamilyStats `json:"families"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
