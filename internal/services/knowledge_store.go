// internal/services/knowledge_store.go
package services

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// KnowledgeStore 当前工作区的文本资料，按插入顺序保存。
// 有活动项目时它就是该项目文件列表的实时视图。
type KnowledgeStore struct {
	// commitMu 串行化“变更 + 回调”以及项目切换，回调看到的列表与活动项目一致
	commitMu sync.Mutex
	mu       sync.RWMutex
	files    []models.KnowledgeFile
	onChange func([]models.KnowledgeFile)
	now      func() time.Time
}

func NewKnowledgeStore() *KnowledgeStore {
	return &KnowledgeStore{now: time.Now}
}

// OnChange 每次变更后以当前列表回调；回调按变更顺序串行执行，其间不会发生其他变更或项目切换
func (k *KnowledgeStore) OnChange(fn func([]models.KnowledgeFile)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onChange = fn
}

// commitLocked 持有 commitMu 时调用：执行变更，变更成功后重新读取列表并回调
func (k *KnowledgeStore) commitLocked(mutate func() bool) {
	k.mu.Lock()
	changed := mutate()
	fn := k.onChange
	k.mu.Unlock()

	if changed && fn != nil {
		fn(k.List())
	}
}

func (k *KnowledgeStore) snapshotLocked() []models.KnowledgeFile {
	return append([]models.KnowledgeFile(nil), k.files...)
}

// Add 追加一份资料，分类必须显式给出
func (k *KnowledgeStore) Add(name, content string, category models.FileCategory) (models.KnowledgeFile, error) {
	file, _, err := k.AddIf(name, content, category, nil)
	return file, err
}

// AddIf 与 Add 相同，但只在 guard 返回 true 时写入；guard 与项目切换互斥
func (k *KnowledgeStore) AddIf(name, content string, category models.FileCategory, guard func() bool) (models.KnowledgeFile, bool, error) {
	if !category.Valid() {
		return models.KnowledgeFile{}, false, apperrors.NewValidationError("未知的文件分类: "+string(category), nil)
	}
	if strings.TrimSpace(name) == "" {
		return models.KnowledgeFile{}, false, apperrors.NewValidationError("文件名不能为空", nil)
	}
	if strings.TrimSpace(content) == "" {
		utils.GetLogger().Warn("添加的资料内容为空", map[string]interface{}{"name": name})
	}

	file := models.KnowledgeFile{
		ID:         utils.NewID(),
		Name:       name,
		Category:   category,
		Content:    content,
		UploadedAt: k.now(),
	}

	k.commitMu.Lock()
	defer k.commitMu.Unlock()
	if guard != nil && !guard() {
		return models.KnowledgeFile{}, false, nil
	}
	k.commitLocked(func() bool {
		k.files = append(k.files, file)
		return true
	})
	return file, true, nil
}

// Remove 删除资料，不存在时不报错
func (k *KnowledgeStore) Remove(id string) {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()

	k.commitLocked(func() bool {
		kept := k.files[:0:0]
		for _, f := range k.files {
			if f.ID != id {
				kept = append(kept, f)
			}
		}
		changed := len(kept) != len(k.files)
		k.files = kept
		return changed
	})
}

func (k *KnowledgeStore) update(id string, mutate func(*models.KnowledgeFile)) (models.KnowledgeFile, error) {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()

	var updated models.KnowledgeFile
	found := false
	k.commitLocked(func() bool {
		for i := range k.files {
			if k.files[i].ID == id {
				mutate(&k.files[i])
				updated, found = k.files[i], true
				return true
			}
		}
		return false
	})
	if !found {
		return models.KnowledgeFile{}, apperrors.NewNotFoundError("资料不存在: "+id, nil)
	}
	return updated, nil
}

// ReassignCategory 修改分类，内容不变
func (k *KnowledgeStore) ReassignCategory(id string, category models.FileCategory) (models.KnowledgeFile, error) {
	if !category.Valid() {
		return models.KnowledgeFile{}, apperrors.NewValidationError("未知的文件分类: "+string(category), nil)
	}
	return k.update(id, func(f *models.KnowledgeFile) { f.Category = category })
}

// UpdateContent 手动编辑或应用AI修改
func (k *KnowledgeStore) UpdateContent(id, content string) (models.KnowledgeFile, error) {
	return k.update(id, func(f *models.KnowledgeFile) { f.Content = content })
}

// Get 按ID查找
func (k *KnowledgeStore) Get(id string) (models.KnowledgeFile, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, f := range k.files {
		if f.ID == id {
			return f, true
		}
	}
	return models.KnowledgeFile{}, false
}

// List 全部资料，插入顺序
func (k *KnowledgeStore) List() []models.KnowledgeFile {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.snapshotLocked()
}

// FilterByCategory 指定分类的资料，插入顺序
func (k *KnowledgeStore) FilterByCategory(category models.FileCategory) []models.KnowledgeFile {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]models.KnowledgeFile, 0)
	for _, f := range k.files {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

// FirstOfCategory 界面默认选中的资料
func (k *KnowledgeStore) FirstOfCategory(category models.FileCategory) (models.KnowledgeFile, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, f := range k.files {
		if f.Category == category {
			return f, true
		}
	}
	return models.KnowledgeFile{}, false
}

// Replace 整体替换，不触发回调
func (k *KnowledgeStore) Replace(files []models.KnowledgeFile) {
	_ = k.Switch(func() ([]models.KnowledgeFile, error) { return files, nil })
}

// Switch 切换项目：load 在与所有变更互斥的情况下切换活动项目并返回新列表，
// 出错时列表保持不变。不触发回调。
func (k *KnowledgeStore) Switch(load func() ([]models.KnowledgeFile, error)) error {
	k.commitMu.Lock()
	defer k.commitMu.Unlock()

	files, err := load()
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.files = append([]models.KnowledgeFile(nil), files...)
	k.mu.Unlock()
	return nil
}

// 文件名关键字到分类的提示，按顺序匹配
var categoryHints = []struct {
	keywords []string
	category models.FileCategory
}{
	{[]string{"人设", "人物"}, models.CategoryCharacterBible},
	{[]string{"大纲", "规划", "梗概"}, models.CategorySeasonOutline},
	{[]string{"脚本", "剧本"}, models.CategoryGeneratedScript},
	{[]string{"排版", "格式"}, models.CategoryFormatRef},
	{[]string{"文笔", "风格"}, models.CategoryStyleRef},
	{[]string{"小说", "原著"}, models.CategoryNovel},
}

// GuessCategory 根据文件名给出分类建议，只作提示，不作为最终分类
func GuessCategory(filename string) models.FileCategory {
	for _, hint := range categoryHints {
		for _, kw := range hint.keywords {
			if strings.Contains(filename, kw) {
				return hint.category
			}
		}
	}
	return models.CategoryOther
}
