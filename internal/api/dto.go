package api

import "time"

type TensorInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

type GraphInfo struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	Nodes     int          `json:"nodes"`
	Tensors   int          `json:"tensors"`
	Steps     int          `json:"steps"`
	ArenaSize int          `json:"arena_bytes"`
	Inputs    []TensorInfo `json:"inputs"`
	Outputs   []TensorInfo `json:"outputs"`
	Delegates []string     `json:"delegates,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type GraphList struct {
	Graphs []GraphInfo `json:"graphs"`
}

type RunInput struct {
	Name string    `json:"name"`
	F32  []float32 `json:"f32,omitempty"`
	I32  []int32   `json:"i32,omitempty"`
}

type RunRequest struct {
	Inputs []RunInput `json:"inputs"`
}

type RunOutput struct {
	Name string    `json:"name"`
	F32  []float32 `json:"f32,omitempty"`
	I32  []int32   `json:"i32,omitempty"`
}

type RunResponse struct {
	Outputs    []RunOutput `json:"outputs"`
	DurationMS float64     `json:"duration_ms"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Node    *int   `json:"node,omitempty"`
	Unit    string `json:"unit,omitempty"`
}
