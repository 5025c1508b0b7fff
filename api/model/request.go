package model

// PageURI 路径中的页码
type PageURI struct {
	Page int `uri:"page"` // 逻辑页码
}

// SideURI 路径中的文本侧
type SideURI struct {
	Side string `uri:"side" binding:"required,oneof=left right"` // left 或 right
}

// JobURI 路径中的任务ID
type JobURI struct {
	ID string `uri:"id" binding:"required"`
}

// JumpRequest 跳转请求
type JumpRequest struct {
	Page *int `json:"page" binding:"required"` // 目标页码
}

// TextUpdateRequest 修改某页文本的请求
type TextUpdateRequest struct {
	Text *string `json:"text" binding:"required"` // 新文本，可以为空串
}

// PatchRequest 接受或推送差异块
type PatchRequest struct {
	Side  string `json:"side" binding:"required,oneof=left right"` // 光标所在的一侧
	Index *int   `json:"index" binding:"required,min=0"`          // 光标的字符下标
	Push  bool   `json:"push"`                                    // true把本侧推到对侧，false用对侧覆盖本侧
}

// MapRequest 光标位置映射请求
type MapRequest struct {
	Side  string `json:"side" binding:"required,oneof=left right"`
	Index *int   `json:"index" binding:"required,min=0"`
}

// OCRRequest 发起识别的请求
type OCRRequest struct {
	Engine string `json:"engine" binding:"omitempty,oneof=remote local"` // 默认 remote
	Force  bool   `json:"force"`                                         // 已有结果时仍重新识别
}

// GetEngine 获取引擎名称，默认为远程接口
func (r *OCRRequest) GetEngine() string {
	if r.Engine == "" {
		return "remote"
	}
	return r.Engine
}

// RegexRequest 修改词头正则，字段缺省时保持原值，空串表示不高亮
type RegexRequest struct {
	Left  *string `json:"left"`
	Right *string `json:"right"`
}

// RightSourceRequest 切换右侧来源
type RightSourceRequest struct {
	Source string `json:"source" binding:"required,oneof=text ocr"`
}
