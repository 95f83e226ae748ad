// internal/services/project_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/storage"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	// ProjectsKey 项目列表的存储键
	ProjectsKey = "projects"
	// ProjectsVersion 当前的持久化格式版本
	ProjectsVersion = 1
)

// projectEnvelope 持久化格式：{"version":1,"projects":[...]}
type projectEnvelope struct {
	Version  int               `json:"version"`
	Projects []*models.Project `json:"projects"`
}

// SessionResetter 切换项目时需要清空的会话状态
type SessionResetter interface {
	Reset()
}

// ProjectService 项目列表与活动项目的生命周期
type ProjectService struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	projects []*models.Project

	store     storage.KVStore
	knowledge *KnowledgeStore
	state     *app.State
	resetters []SessionResetter
	now       func() time.Time
}

// NewProjectService 创建服务并从存储加载项目列表
func NewProjectService(ctx context.Context, store storage.KVStore, knowledge *KnowledgeStore, state *app.State, resetters ...SessionResetter) (*ProjectService, error) {
	s := &ProjectService{
		store:     store,
		knowledge: knowledge,
		state:     state,
		resetters: resetters,
		now:       time.Now,
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	knowledge.OnChange(s.syncActiveFiles)
	return s, nil
}

// AddResetter 追加切换项目时需要重置的组件
func (s *ProjectService) AddResetter(r SessionResetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetters = append(s.resetters, r)
}

func (s *ProjectService) load(ctx context.Context) error {
	data, err := s.store.Get(ctx, ProjectsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取项目列表失败: %w", err)
	}

	projects, legacy, err := DecodeProjects(data)
	if err != nil {
		return err
	}
	s.projects = projects

	utils.GetLogger().Info("项目列表已加载", map[string]interface{}{
		"count":  len(projects),
		"legacy": legacy,
	})
	if legacy {
		// 旧格式立即改写为带版本的格式
		s.persist(ctx)
	}
	return nil
}

// DecodeProjects 解析持久化数据，兼容没有版本号的裸数组
func DecodeProjects(data []byte) (projects []*models.Project, legacy bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &projects); err != nil {
			return nil, true, fmt.Errorf("解析旧版项目列表失败: %w", err)
		}
		return normalizeProjects(projects), true, nil
	}

	var env projectEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false, fmt.Errorf("解析项目列表失败: %w", err)
	}
	if env.Version > ProjectsVersion {
		return nil, false, fmt.Errorf("项目数据版本 %d 高于当前支持的版本 %d", env.Version, ProjectsVersion)
	}
	return normalizeProjects(env.Projects), false, nil
}

// EncodeProjects 以当前版本序列化
func EncodeProjects(projects []*models.Project) ([]byte, error) {
	if projects == nil {
		projects = []*models.Project{}
	}
	return json.Marshal(projectEnvelope{Version: ProjectsVersion, Projects: projects})
}

func normalizeProjects(projects []*models.Project) []*models.Project {
	out := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		if p == nil || p.ID == "" {
			continue
		}
		if !p.FrequencyMode.Valid() {
			p.FrequencyMode = models.FrequencyMale
		}
		if p.Files == nil {
			p.Files = []models.KnowledgeFile{}
		}
		out = append(out, p)
	}
	return out
}

// persist 写入完整列表；失败只记录日志，内存状态不回滚
func (s *ProjectService) persist(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snapshot := make([]*models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		snapshot = append(snapshot, p.Clone())
	}
	s.mu.Unlock()

	data, err := EncodeProjects(snapshot)
	if err == nil {
		err = s.store.Set(ctx, ProjectsKey, data)
	}
	if err != nil {
		utils.GetLogger().Error("保存项目列表失败", map[string]interface{}{"error": err})
		utils.GetMetricsCollector().RecordError("persist", "project_service")
	}
}

func (s *ProjectService) findLocked(id string) (int, *models.Project) {
	for i, p := range s.projects {
		if p.ID == id {
			return i, p
		}
	}
	return -1, nil
}

// syncActiveFiles 知识库变更后同步到活动项目；与 Open/Close 互斥，活动项目与列表始终对应
func (s *ProjectService) syncActiveFiles(_ []models.KnowledgeFile) {
	files := s.knowledge.List()
	activeID := s.state.ActiveProjectID()
	if activeID == "" {
		return
	}

	s.mu.Lock()
	_, p := s.findLocked(activeID)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.Files = files
	p.LastModified = s.now()
	s.mu.Unlock()

	s.persist(context.Background())
}

// Create 新建项目，频段创建后不可修改
func (s *ProjectService) Create(ctx context.Context, title string, mode models.FrequencyMode) (*models.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperrors.NewValidationError("项目名称不能为空", nil)
	}
	if !mode.Valid() {
		return nil, apperrors.NewValidationError("未知的频段模式: "+string(mode), nil)
	}

	p := &models.Project{
		ID:            utils.NewID(),
		Title:         title,
		Files:         []models.KnowledgeFile{},
		LastModified:  s.now(),
		FrequencyMode: mode,
	}

	s.mu.Lock()
	s.projects = append(s.projects, p)
	created := p.Clone()
	s.mu.Unlock()

	s.persist(ctx)
	utils.GetLogger().Info("项目已创建", map[string]interface{}{"project_id": p.ID, "title": title, "mode": mode})
	return created, nil
}

// List 项目摘要，最近修改的在前
func (s *ProjectService) List() []models.ProjectSummary {
	activeID := s.state.ActiveProjectID()

	s.mu.Lock()
	out := make([]models.ProjectSummary, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, models.ProjectSummary{
			ID:            p.ID,
			Title:         p.Title,
			FileCount:     len(p.Files),
			LastModified:  p.LastModified,
			FrequencyMode: p.FrequencyMode,
			Active:        p.ID == activeID,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

// Get 返回项目副本
func (s *ProjectService) Get(id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, p := s.findLocked(id)
	if p == nil {
		return nil, apperrors.NewNotFoundError("项目不存在: "+id, nil)
	}
	return p.Clone(), nil
}

// Active 当前打开的项目
func (s *ProjectService) Active() (*models.Project, bool) {
	id := s.state.ActiveProjectID()
	if id == "" {
		return nil, false
	}
	p, err := s.Get(id)
	if err != nil {
		return nil, false
	}
	return p, true
}

// ActiveMode 当前项目的频段，没有项目时默认男频
func (s *ProjectService) ActiveMode() models.FrequencyMode {
	if p, ok := s.Active(); ok {
		return p.FrequencyMode
	}
	return models.FrequencyMale
}

// Delete 删除项目；删除的是活动项目时回到项目中心
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx, p := s.findLocked(id)
	if p == nil {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("项目不存在: "+id, nil)
	}
	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	s.mu.Unlock()

	s.persist(ctx)
	if s.state.ActiveProjectID() == id {
		s.Close()
	}
	utils.GetLogger().Info("项目已删除", map[string]interface{}{"project_id": id})
	return nil
}

func (s *ProjectService) resetSession() {
	s.mu.Lock()
	resetters := append([]SessionResetter(nil), s.resetters...)
	s.mu.Unlock()
	for _, r := range resetters {
		r.Reset()
	}
}

// Open 切换到指定项目：载入其资料，清空脚本段，进入知识库页面
func (s *ProjectService) Open(id string) (*models.Project, error) {
	var p *models.Project
	err := s.knowledge.Switch(func() ([]models.KnowledgeFile, error) {
		// 在切换锁内读取，拿到的资料包含此前所有已提交的变更
		var err error
		if p, err = s.Get(id); err != nil {
			return nil, err
		}
		s.state.SetActiveProject(p.ID)
		s.resetSession()
		return p.Files, nil
	})
	if err != nil {
		return nil, err
	}
	s.state.NavigateTo(models.StepKnowledgeBase)

	utils.GetLogger().Info("已切换项目", map[string]interface{}{"project_id": p.ID, "files": len(p.Files)})
	return p, nil
}

// Close 关闭当前项目，回到项目中心
func (s *ProjectService) Close() {
	_ = s.knowledge.Switch(func() ([]models.KnowledgeFile, error) {
		s.state.SetActiveProject("")
		s.resetSession()
		return nil, nil
	})
	s.state.NavigateTo(models.StepProjectHub)
}

// MigrateProjects 在两个存储之间复制项目列表，并统一为当前版本格式
func MigrateProjects(ctx context.Context, from, to storage.KVStore) (int, error) {
	data, err := from.Get(ctx, ProjectsKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("读取源存储失败: %w", err)
	}

	projects, _, err := DecodeProjects(data)
	if err != nil {
		return 0, err
	}
	out, err := EncodeProjects(projects)
	if err != nil {
		return 0, err
	}
	if err := to.Set(ctx, ProjectsKey, out); err != nil {
		return 0, fmt.Errorf("写入目标存储失败: %w", err)
	}
	return len(projects), nil
}
