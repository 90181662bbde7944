package xplane

// Web API payloads.

type datarefInfo struct {
	ID         int64  `json:"id"`
	IsWritable bool   `json:"is_writable"`
	Name       string `json:"name"`
	ValueType  string `json:"value_type"`
}

type datarefsResponse struct {
	Data []datarefInfo `json:"data"`
}

type valueResponse struct {
	Data any `json:"data"`
}

type valueRequest struct {
	Data float64 `json:"data"`
}

type subRef struct {
	ID int64 `json:"id"`
}

type subscribeParams struct {
	Datarefs []subRef `json:"datarefs"`
}

type subscribeRequest struct {
	RequestID int64           `json:"req_id"`
	Type      string          `json:"type"`
	Params    subscribeParams `json:"params"`
}

type wsMessage struct {
	RequestID int64          `json:"req_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Success   bool           `json:"success,omitempty"`
}
