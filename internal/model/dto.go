package model

// AddDocumentsRequest 是 POST /documents 的请求体。
type AddDocumentsRequest struct {
	Texts []string `json:"texts"`
}

// AddDocumentsResponse 按输入顺序返回分配的文档 ID。
type AddDocumentsResponse struct {
	DocumentIDs []int64 `json:"document_ids"`
}

// QueryRequest 是 POST /query 的请求体，Limit 为 0 时使用默认值。
type QueryRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

// QueryResponse 按相似度从高到低返回命中结果。
type QueryResponse struct {
	Results []SearchResult `json:"results"`
}

// UploadResponse 是异步导入任务的受理回执。
type UploadResponse struct {
	TaskID  string   `json:"task_id"`
	Objects []string `json:"objects"`
}
