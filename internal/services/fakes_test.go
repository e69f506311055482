package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/vectorindex"
	"github.com/yungbote/minirag-backend/internal/types"
)

// Shared fakes for the service tests in this package. Each fake counts its
// calls and captures the last arguments; fakes that participate in the
// deletion saga also append to a shared opTrace so tests can assert
// cross-dependency ordering.

type opTrace struct {
	ops []string
}

func (t *opTrace) add(op string) {
	if t != nil {
		t.ops = append(t.ops, op)
	}
}

// fakeIndex is an in-memory vectorindex.Index keyed by project UUID. Search
// ranks by dot product against the stored vectors.
type fakeIndex struct {
	collections map[string][]vectorindex.Vector
	listResult  []string

	failEnsure error
	failUpsert error
	failDelete error
	failDrop   error
	failSearch error
	failList   error
	failInfo   error

	ensureCalls int
	upsertCalls int
	deleteCalls int
	dropCalls   int
	searchCalls int
	lastTopK    int

	lastUpserted []vectorindex.Vector
	lastFilter   vectorindex.Filter
	dropped      []uuid.UUID

	trace *opTrace
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{collections: map[string][]vectorindex.Vector{}}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, projectID uuid.UUID) error {
	f.ensureCalls++
	if f.failEnsure != nil {
		return f.failEnsure
	}
	key := projectID.String()
	if _, ok := f.collections[key]; !ok {
		f.collections[key] = nil
	}
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, projectID uuid.UUID, vectors []vectorindex.Vector) error {
	f.upsertCalls++
	f.trace.add("index.upsert")
	if f.failUpsert != nil {
		return f.failUpsert
	}
	key := projectID.String()
	existing := f.collections[key]
	for _, v := range vectors {
		replaced := false
		for i := range existing {
			if existing[i].ID == v.ID {
				existing[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, v)
		}
	}
	f.collections[key] = existing
	f.lastUpserted = append([]vectorindex.Vector(nil), vectors...)
	return nil
}

func (f *fakeIndex) DeleteByFilter(ctx context.Context, projectID uuid.UUID, filter vectorindex.Filter) error {
	f.deleteCalls++
	f.lastFilter = filter
	f.trace.add("index.delete_by_filter")
	if f.failDelete != nil {
		return f.failDelete
	}
	key := projectID.String()
	kept := f.collections[key][:0]
	for _, v := range f.collections[key] {
		if filter.AssetID != "" && v.Payload.AssetID == filter.AssetID {
			continue
		}
		kept = append(kept, v)
	}
	f.collections[key] = kept
	return nil
}

func (f *fakeIndex) DropCollection(ctx context.Context, projectID uuid.UUID) error {
	f.dropCalls++
	f.trace.add("index.drop_collection")
	if f.failDrop != nil {
		return f.failDrop
	}
	f.dropped = append(f.dropped, projectID)
	delete(f.collections, projectID.String())
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, projectID uuid.UUID, query []float32, topK int) ([]vectorindex.Match, error) {
	f.searchCalls++
	f.lastTopK = topK
	if f.failSearch != nil {
		return nil, f.failSearch
	}
	stored := f.collections[projectID.String()]
	matches := make([]vectorindex.Match, 0, len(stored))
	for _, v := range stored {
		matches = append(matches, vectorindex.Match{
			ID:      v.ID,
			Score:   dotProduct(query, v.Values),
			Payload: v.Payload,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (f *fakeIndex) Info(ctx context.Context, projectID uuid.UUID) (vectorindex.CollectionInfo, error) {
	if f.failInfo != nil {
		return vectorindex.CollectionInfo{}, f.failInfo
	}
	stored, ok := f.collections[projectID.String()]
	return vectorindex.CollectionInfo{
		Exists:      ok,
		VectorCount: int64(len(stored)),
		VectorDim:   fakeEmbedDim,
	}, nil
}

func (f *fakeIndex) ListCollections(ctx context.Context) ([]string, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	return f.listResult, nil
}

func (f *fakeIndex) vectorCount(projectID uuid.UUID) int {
	return len(f.collections[projectID.String()])
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := 0; i < len(a) && i < len(b); i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// fakeAI deterministically embeds text as keyword-count vectors, so ranking
// in fakeIndex is stable and checkable by eye.
const fakeEmbedDim = 8

var fakeKeywords = [fakeEmbedDim]string{"france", "paris", "capital", "berlin", "germany", "eiffel", "tower", "river"}

type fakeAI struct {
	embedCalls      int
	lastEmbedInputs []string
	embedErr        error
	embedShort      bool

	genCalls   int
	lastSystem string
	lastUser   string
	genAnswer  string
	genErr     error
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls++
	f.lastEmbedInputs = append([]string(nil), inputs...)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = keywordVector(text)
	}
	if f.embedShort && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.genCalls++
	f.lastSystem = system
	f.lastUser = user
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.genAnswer != "" {
		return f.genAnswer, nil
	}
	return "fake answer", nil
}

func (f *fakeAI) EmbedDim() int      { return fakeEmbedDim }
func (f *fakeAI) EmbedModel() string { return "fake-embed" }

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, fakeEmbedDim)
	for i, kw := range fakeKeywords {
		v[i] = float32(strings.Count(lower, kw))
	}
	return v
}

// fakeEmbedder implements EmbeddingService directly for tests that do not
// care about batching or caching.
type fakeEmbedder struct {
	embedCalls int
	lastTexts  []string
	err        error
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	f.lastTexts = append([]string(nil), texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = keywordVector(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Dim() int      { return fakeEmbedDim }
func (f *fakeEmbedder) Model() string { return "fake-embed" }

// fakeProjects is a ProjectService over a fixed set of owned projects.
type fakeProjects struct {
	byUserCode    map[string]*types.Project
	getOwnedCalls int
}

func newFakeProjects(projects ...*types.Project) *fakeProjects {
	f := &fakeProjects{byUserCode: map[string]*types.Project{}}
	for _, p := range projects {
		f.byUserCode[projectKey(p.UserID, p.ProjectCode)] = p
	}
	return f
}

func projectKey(userID, projectCode int) string {
	return fmt.Sprintf("%d:%d", userID, projectCode)
}

func (f *fakeProjects) Create(ctx context.Context, userID int, projectCode int) (*types.Project, bool, error) {
	if p, ok := f.byUserCode[projectKey(userID, projectCode)]; ok {
		return p, false, nil
	}
	p := &types.Project{
		ProjectID:   len(f.byUserCode) + 1,
		ProjectUUID: uuid.New(),
		UserID:      userID,
		ProjectCode: projectCode,
	}
	f.byUserCode[projectKey(userID, projectCode)] = p
	return p, true, nil
}

func (f *fakeProjects) GetOwned(ctx context.Context, userID int, projectCode int) (*types.Project, error) {
	f.getOwnedCalls++
	if p, ok := f.byUserCode[projectKey(userID, projectCode)]; ok {
		return p, nil
	}
	return nil, apierr.NotFound(fmt.Errorf("project %d not found", projectCode))
}

func (f *fakeProjects) List(ctx context.Context, userID int, page int, pageSize int) ([]*ProjectSummary, int64, error) {
	return nil, 0, nil
}

func (f *fakeProjects) Detail(ctx context.Context, userID int, projectCode int) (*ProjectDetail, error) {
	return nil, nil
}

// fakeProjectRepo backs ProjectService and DeletionService tests.
type fakeProjectRepo struct {
	projects map[int]*types.Project

	getOrCreateCalls int
	deleteCalls      int
	lastDeletedID    int

	failList   error
	failDelete error

	trace *opTrace
}

func newFakeProjectRepo(projects ...*types.Project) *fakeProjectRepo {
	f := &fakeProjectRepo{projects: map[int]*types.Project{}}
	for _, p := range projects {
		f.projects[p.ProjectID] = p
	}
	return f
}

func (f *fakeProjectRepo) Create(ctx context.Context, tx *gorm.DB, projects []*types.Project) ([]*types.Project, error) {
	for _, p := range projects {
		if p.ProjectID == 0 {
			p.ProjectID = len(f.projects) + 1
		}
		if p.ProjectUUID == uuid.Nil {
			p.ProjectUUID = uuid.New()
		}
		f.projects[p.ProjectID] = p
	}
	return projects, nil
}

func (f *fakeProjectRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, bool, error) {
	f.getOrCreateCalls++
	for _, p := range f.projects {
		if p.UserID == userID && p.ProjectCode == projectCode {
			return p, false, nil
		}
	}
	p := &types.Project{
		ProjectID:   len(f.projects) + 1,
		ProjectUUID: uuid.New(),
		UserID:      userID,
		ProjectCode: projectCode,
	}
	f.projects[p.ProjectID] = p
	return p, true, nil
}

func (f *fakeProjectRepo) GetByUserAndCode(ctx context.Context, tx *gorm.DB, userID int, projectCode int) (*types.Project, error) {
	for _, p := range f.projects {
		if p.UserID == userID && p.ProjectCode == projectCode {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, tx *gorm.DB, projectID int) (*types.Project, error) {
	return f.projects[projectID], nil
}

func (f *fakeProjectRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.Project, int64, error) {
	var out []*types.Project
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, int64(len(out)), nil
}

func (f *fakeProjectRepo) ListUUIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	ids := make([]uuid.UUID, 0, len(f.projects))
	for _, p := range f.projects {
		ids = append(ids, p.ProjectUUID)
	}
	return ids, nil
}

func (f *fakeProjectRepo) DeleteByID(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
	f.deleteCalls++
	f.lastDeletedID = projectID
	f.trace.add("repo.delete_project_row")
	if f.failDelete != nil {
		return 0, f.failDelete
	}
	if _, ok := f.projects[projectID]; !ok {
		return 0, nil
	}
	delete(f.projects, projectID)
	return 1, nil
}

// fakeAssetRepo is an in-memory repos.AssetRepo.
type fakeAssetRepo struct {
	assets map[int]*types.Asset
	nextID int

	createCalls          int
	deleteByIDCalls      int
	deleteByProjectCalls int

	failDeleteByID      error
	failDeleteByProject error

	trace *opTrace
}

func newFakeAssetRepo(assets ...*types.Asset) *fakeAssetRepo {
	f := &fakeAssetRepo{assets: map[int]*types.Asset{}}
	for _, a := range assets {
		f.assets[a.AssetID] = a
		if a.AssetID > f.nextID {
			f.nextID = a.AssetID
		}
	}
	return f
}

func (f *fakeAssetRepo) Create(ctx context.Context, tx *gorm.DB, assets []*types.Asset) ([]*types.Asset, error) {
	f.createCalls++
	for _, a := range assets {
		if a.AssetID == 0 {
			f.nextID++
			a.AssetID = f.nextID
		}
		f.assets[a.AssetID] = a
	}
	return assets, nil
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, assetID int) (*types.Asset, error) {
	return f.assets[assetID], nil
}

func (f *fakeAssetRepo) GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.Asset, error) {
	var out []*types.Asset
	for _, a := range f.assets {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (f *fakeAssetRepo) GetByProjectAndName(ctx context.Context, tx *gorm.DB, projectID int, name string) (*types.Asset, error) {
	for _, a := range f.assets {
		if a.ProjectID == projectID && a.Name == name {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetRepo) CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
	assets, _ := f.GetByProject(ctx, tx, projectID)
	return int64(len(assets)), nil
}

func (f *fakeAssetRepo) DeleteByID(ctx context.Context, tx *gorm.DB, assetID int) (int64, error) {
	f.deleteByIDCalls++
	f.trace.add("repo.delete_asset_row")
	if f.failDeleteByID != nil {
		return 0, f.failDeleteByID
	}
	if _, ok := f.assets[assetID]; !ok {
		return 0, nil
	}
	delete(f.assets, assetID)
	return 1, nil
}

func (f *fakeAssetRepo) DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
	f.deleteByProjectCalls++
	f.trace.add("repo.delete_asset_rows")
	if f.failDeleteByProject != nil {
		return 0, f.failDeleteByProject
	}
	var deleted int64
	for id, a := range f.assets {
		if a.ProjectID == projectID {
			delete(f.assets, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeChunkRepo is an in-memory repos.DataChunkRepo.
type fakeChunkRepo struct {
	chunks []*types.DataChunk
	nextID int

	createCalls          int
	deleteByAssetCalls   int
	deleteByProjectCalls int

	failCreate          error
	failDeleteByAsset   error
	failDeleteByProject error

	trace *opTrace
}

func newFakeChunkRepo(chunks ...*types.DataChunk) *fakeChunkRepo {
	f := &fakeChunkRepo{}
	for _, c := range chunks {
		f.chunks = append(f.chunks, c)
		if c.ChunkID > f.nextID {
			f.nextID = c.ChunkID
		}
	}
	return f
}

func (f *fakeChunkRepo) Create(ctx context.Context, tx *gorm.DB, chunks []*types.DataChunk) ([]*types.DataChunk, error) {
	f.createCalls++
	f.trace.add("repo.create_chunk_rows")
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	for _, c := range chunks {
		if c.ChunkID == 0 {
			f.nextID++
			c.ChunkID = f.nextID
		}
		f.chunks = append(f.chunks, c)
	}
	return chunks, nil
}

func (f *fakeChunkRepo) GetByAsset(ctx context.Context, tx *gorm.DB, assetID int) ([]*types.DataChunk, error) {
	var out []*types.DataChunk
	for _, c := range f.chunks {
		if c.AssetID == assetID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) GetByProject(ctx context.Context, tx *gorm.DB, projectID int) ([]*types.DataChunk, error) {
	var out []*types.DataChunk
	for _, c := range f.chunks {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) GetByUUIDs(ctx context.Context, tx *gorm.DB, uuids []uuid.UUID) ([]*types.DataChunk, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range uuids {
		want[id] = true
	}
	var out []*types.DataChunk
	for _, c := range f.chunks {
		if want[c.ChunkUUID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkRepo) MaxSequenceForAsset(ctx context.Context, tx *gorm.DB, assetID int) (int, error) {
	maxSeq := 0
	for _, c := range f.chunks {
		if c.AssetID == assetID && c.Sequence > maxSeq {
			maxSeq = c.Sequence
		}
	}
	return maxSeq, nil
}

func (f *fakeChunkRepo) CountByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
	chunks, _ := f.GetByProject(ctx, tx, projectID)
	return int64(len(chunks)), nil
}

func (f *fakeChunkRepo) DeleteByAsset(ctx context.Context, tx *gorm.DB, assetID int) (int64, error) {
	f.deleteByAssetCalls++
	f.trace.add("repo.delete_chunk_rows")
	if f.failDeleteByAsset != nil {
		return 0, f.failDeleteByAsset
	}
	kept := f.chunks[:0]
	var deleted int64
	for _, c := range f.chunks {
		if c.AssetID == assetID {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return deleted, nil
}

func (f *fakeChunkRepo) DeleteByProject(ctx context.Context, tx *gorm.DB, projectID int) (int64, error) {
	f.deleteByProjectCalls++
	f.trace.add("repo.delete_chunk_rows")
	if f.failDeleteByProject != nil {
		return 0, f.failDeleteByProject
	}
	kept := f.chunks[:0]
	var deleted int64
	for _, c := range f.chunks {
		if c.ProjectID == projectID {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	f.chunks = kept
	return deleted, nil
}

// fakeQueryLogRepo is an in-memory repos.QueryLogRepo.
type fakeQueryLogRepo struct {
	logs        []*types.QueryLog
	createCalls int
	failCreate  error
}

func (f *fakeQueryLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.QueryLog) ([]*types.QueryLog, error) {
	f.createCalls++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	for i, l := range logs {
		l.LogID = len(f.logs) + i + 1
	}
	f.logs = append(f.logs, logs...)
	return logs, nil
}

func (f *fakeQueryLogRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID int, page int, pageSize int) ([]*types.QueryLog, int64, error) {
	var owned []*types.QueryLog
	for _, l := range f.logs {
		if l.UserID == userID {
			owned = append(owned, l)
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	start := (page - 1) * pageSize
	if start > len(owned) {
		start = len(owned)
	}
	end := start + pageSize
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], int64(len(owned)), nil
}

// fakeUserRepo is an in-memory repos.UserRepo keyed by email.
type fakeUserRepo struct {
	users       map[string]*types.User
	createCalls int
	failCreate  error
}

func newFakeUserRepo(users ...*types.User) *fakeUserRepo {
	f := &fakeUserRepo{users: map[string]*types.User{}}
	for _, u := range users {
		f.users[u.Email] = u
	}
	return f
}

func (f *fakeUserRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
	f.createCalls++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	for _, u := range users {
		if _, ok := f.users[u.Email]; ok {
			return nil, fmt.Errorf("duplicate email %s", u.Email)
		}
		u.UserID = len(f.users) + 1
		u.UserUUID = uuid.New()
		f.users[u.Email] = u
	}
	return users, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, tx *gorm.DB, userID int) (*types.User, error) {
	for _, u := range f.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	return f.users[email], nil
}

func (f *fakeUserRepo) EmailExists(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	_, ok := f.users[email]
	return ok, nil
}

// fakeBucket is an in-memory gcs.BucketService.
type fakeBucket struct {
	objects map[string][]byte

	uploadCalls       int
	downloadCalls     int
	deleteCalls       int
	deletePrefixCalls int

	lastDeletedKey    string
	lastDeletedPrefix string

	failUpload       error
	failDownload     error
	failDelete       error
	failDeletePrefix error

	trace *opTrace
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) UploadFile(ctx context.Context, key string, file io.Reader, contentType string) error {
	f.uploadCalls++
	if f.failUpload != nil {
		return f.failUpload
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBucket) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	f.downloadCalls++
	if f.failDownload != nil {
		return nil, f.failDownload
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (f *fakeBucket) DeleteFile(ctx context.Context, key string) error {
	f.deleteCalls++
	f.lastDeletedKey = key
	f.trace.add("bucket.delete_file")
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeBucket) DeletePrefix(ctx context.Context, prefix string) error {
	f.deletePrefixCalls++
	f.lastDeletedPrefix = prefix
	f.trace.add("bucket.delete_prefix")
	if f.failDeletePrefix != nil {
		return f.failDeletePrefix
	}
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
		}
	}
	return nil
}
