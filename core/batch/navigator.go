package batch

import (
	"sync"

	"PIIReview/model"
)

// Navigator 保存一个批次的有序文件、检测结果（到达后）以及当前审阅文件的索引
type Navigator struct {
	mu      sync.RWMutex
	files   []*model.Artifact
	results []*model.DetectionResult
	index   int
}

func NewNavigator() *Navigator {
	return &Navigator{}
}

// SetFiles 替换批次，回到第一个文件并清空结果
func (n *Navigator) SetFiles(files []*model.Artifact) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files = append([]*model.Artifact(nil), files...)
	n.results = nil
	n.index = 0
}

// AttachResults 按位置保存结果，多出的结果忽略，缺少的保持 nil
func (n *Navigator) AttachResults(results []model.DetectionResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = make([]*model.DetectionResult, len(n.files))
	for i := range results {
		if i >= len(n.files) {
			break
		}
		r := results[i]
		n.results[i] = &r
	}
}

// Next 前进一个文件，不回绕，返回是否移动
func (n *Navigator) Next() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index+1 >= len(n.files) {
		return false
	}
	n.index++
	return true
}

// Prev 后退一个文件
func (n *Navigator) Prev() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.index == 0 {
		return false
	}
	n.index--
	return true
}

func (n *Navigator) Index() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.index
}

func (n *Navigator) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.files)
}

// Current 返回当前文件及其结果，两者都可能为 nil
func (n *Navigator) Current() (*model.Artifact, *model.DetectionResult) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.at(n.index)
}

func (n *Navigator) at(i int) (*model.Artifact, *model.DetectionResult) {
	if i < 0 || i >= len(n.files) {
		return nil, nil
	}
	var r *model.DetectionResult
	if i < len(n.results) {
		r = n.results[i]
	}
	return n.files[i], r
}

// Files 按提交顺序返回批次的副本
func (n *Navigator) Files() []*model.Artifact {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*model.Artifact(nil), n.files...)
}

// HasResults 批次是否已挂载检测结果
func (n *Navigator) HasResults() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.results != nil
}
