package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// =============================================================================
// Backend 内存版维修后端，供各包测试使用
// =============================================================================

// Request is one call observed by the fake backend.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Auth     string
}

type fakeUser struct {
	user     entity.User
	password string
}

type fakeFile struct {
	contentType string
	data        []byte
}

// Backend is an in-memory implementation of the repair backend REST API.
type Backend struct {
	Server *httptest.Server

	// BeforeList runs, outside the lock, before a record list is answered.
	// Tests use it to delay or reorder responses.
	BeforeList func(q url.Values)
	// BareLists answers item/product/worker lists as bare arrays.
	BareLists bool
	// PartialPatch answers PATCH with only {id, status, updatedAt}.
	PartialPatch bool

	mu        sync.Mutex
	users     map[string]*fakeUser
	tokens    map[string]entity.User
	records   map[int64]*entity.RepairRecord
	items     []entity.Item
	products  []entity.Product
	files     map[int64]fakeFile
	failFiles map[int64]bool
	nextID    int64
	requests  []Request
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		users:     make(map[string]*fakeUser),
		tokens:    make(map[string]entity.User),
		records:   make(map[int64]*entity.RepairRecord),
		files:     make(map[int64]fakeFile),
		failFiles: make(map[int64]bool),
		nextID:    100,
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the base URL of the fake backend.
func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) id() int64 {
	b.nextID++
	return b.nextID
}

// AddUser registers a login and returns the user with its assigned id.
func (b *Backend) AddUser(name, email, password string, role entity.Role) entity.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := entity.User{ID: b.id(), Name: name, Email: email, Role: role}
	b.users[strings.ToLower(email)] = &fakeUser{user: u, password: password}
	return u
}

// IssueToken mints a token the fake backend accepts for user.
func (b *Backend) IssueToken(user entity.User, ttl time.Duration) string {
	token := GenerateTestToken(user, ttl)
	b.mu.Lock()
	b.tokens[token] = user
	b.mu.Unlock()
	return token
}

// RevokeToken makes every later call with token answer 401.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	delete(b.tokens, token)
	b.mu.Unlock()
}

// SeedRecord stores rec, assigning an id when rec.ID is zero.
func (b *Backend) SeedRecord(rec entity.RepairRecord) entity.RepairRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = b.id()
	}
	if rec.Status == "" {
		rec.Status = entity.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	stored := rec
	b.records[rec.ID] = &stored
	return rec
}

// AddFile attaches a media file to a record and returns the file id.
func (b *Backend) AddFile(recordID int64, kind entity.MediaKind, contentType string, data []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addFileLocked(recordID, kind, contentType, data)
}

func (b *Backend) addFileLocked(recordID int64, kind entity.MediaKind, contentType string, data []byte) int64 {
	fid := b.id()
	b.files[fid] = fakeFile{contentType: contentType, data: data}
	rec := b.records[recordID]
	if rec == nil {
		return fid
	}
	mf := entity.MediaFile{ID: fid, URL: "/repair-records/" + strconv.FormatInt(recordID, 10) + "/file/" + strconv.FormatInt(fid, 10)}
	if kind == entity.MediaVideo {
		rec.Videos = append(rec.Videos, mf)
	} else {
		rec.Images = append(rec.Images, mf)
	}
	return fid
}

// FailFile makes the file endpoint answer 500 for fileID.
func (b *Backend) FailFile(fileID int64) {
	b.mu.Lock()
	b.failFiles[fileID] = true
	b.mu.Unlock()
}

// SeedItem adds a catalog item.
func (b *Backend) SeedItem(item entity.Item) entity.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item.ID == 0 {
		item.ID = b.id()
	}
	b.items = append(b.items, item)
	return item
}

// Record returns the stored record.
func (b *Backend) Record(id int64) (entity.RepairRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok {
		return entity.RepairRecord{}, false
	}
	return *rec, true
}

// Requests returns the calls observed so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// RequestsTo returns the observed calls whose path starts with prefix.
func (b *Backend) RequestsTo(method, prefix string) []Request {
	var out []Request
	for _, r := range b.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// 路由
// =============================================================================

func (b *Backend) router() *gin.Engine {
	r := SetupRouter()
	r.Use(b.record)

	r.POST("/auth/login", b.login)

	api := r.Group("", b.auth)
	api.GET("/repair-records", b.listRecords)
	api.GET("/repair-records/my/jobs", b.listMyJobs)
	api.POST("/repair-records", b.createRecord)
	api.GET("/repair-records/:id", b.getRecord)
	api.PATCH("/repair-records/:id", b.patchRecord)
	api.PUT("/repair-records/:id/accept", b.acceptJob)
	api.GET("/repair-records/:id/file/:fileId", b.getFile)

	api.GET("/items", b.listItems)
	api.POST("/items", b.createItem)
	api.PUT("/items/:id", b.updateItem)
	api.DELETE("/items/:id", b.deleteItem)

	api.GET("/products", b.listProducts)
	api.POST("/products", b.createProduct)
	api.PUT("/products/:id", b.updateProduct)
	api.DELETE("/products/:id", b.deleteProduct)

	api.GET("/workers", b.listWorkers)
	api.POST("/workers", b.createWorker)
	api.PUT("/workers/:id", b.updateWorker)
	api.DELETE("/workers/:id", b.deleteWorker)
	return r
}

func (b *Backend) record(c *gin.Context) {
	b.mu.Lock()
	b.requests = append(b.requests, Request{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Auth:     c.GetHeader("Authorization"),
	})
	b.mu.Unlock()
	c.Next()
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"success": true, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func (b *Backend) auth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	b.mu.Lock()
	user, found := b.tokens[token]
	b.mu.Unlock()
	if !found {
		fail(c, http.StatusUnauthorized, "Invalid or expired token")
		c.Abort()
		return
	}
	c.Set("user", user)
	c.Next()
}

func currentUser(c *gin.Context) entity.User {
	u, _ := c.Get("user")
	return u.(entity.User)
}

func (b *Backend) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	fu, found := b.users[strings.ToLower(req.Email)]
	b.mu.Unlock()
	if !found || fu.password != req.Password {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token := b.IssueToken(fu.user, time.Hour)
	ok(c, http.StatusOK, "Login successful", gin.H{"user": fu.user, "accessToken": token})
}

// =============================================================================
// 维修记录
// =============================================================================

func (b *Backend) filterRecords(q url.Values, keep func(*entity.RepairRecord) bool) ([]entity.RepairRecord, int) {
	search := strings.ToLower(q.Get("search"))
	status := entity.RepairStatus(q.Get("status"))
	start := q.Get("startDate")
	end := q.Get("endDate")
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []entity.RepairRecord
	for _, rec := range b.records {
		if keep != nil && !keep(rec) {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.CustomerName), search) &&
			!strings.Contains(strings.ToLower(rec.CustomerNumber), search) &&
			!strings.Contains(strings.ToLower(rec.DeviceModel), search) {
			continue
		}
		day := rec.CreatedAt.Format("2006-01-02")
		if start != "" && day < start {
			continue
		}
		if end != "" && day > end {
			continue
		}
		matched = append(matched, *rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	if matched == nil {
		matched = []entity.RepairRecord{}
	}
	return matched, total
}

func (b *Backend) listRecords(c *gin.Context) {
	q := c.Request.URL.Query()
	if b.BeforeList != nil {
		b.BeforeList(q)
	}
	records, total := b.filterRecords(q, nil)
	ok(c, http.StatusOK, "", gin.H{"records": records, "total": total})
}

func (b *Backend) listMyJobs(c *gin.Context) {
	user := currentUser(c)
	q := c.Request.URL.Query()
	if b.BeforeList != nil {
		b.BeforeList(q)
	}
	records, total := b.filterRecords(q, func(rec *entity.RepairRecord) bool {
		return rec.AssignedTo != nil && rec.AssignedTo.ID == user.ID
	})
	ok(c, http.StatusOK, "", gin.H{"records": records, "total": total})
}

func (b *Backend) lookup(c *gin.Context) (*entity.RepairRecord, bool) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	rec, found := b.records[id]
	if !found {
		fail(c, http.StatusNotFound, "Repair record not found")
		return nil, false
	}
	return rec, true
}

func (b *Backend) getRecord(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, found := b.lookup(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, "", rec)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func (b *Backend) lineItems(in []entity.LineItemInput) []entity.RepairLineItem {
	out := make([]entity.RepairLineItem, 0, len(in))
	for _, li := range in {
		row := entity.RepairLineItem{
			ID:          li.ID,
			ItemID:      li.ItemID,
			Quantity:    li.Quantity,
			PriceAtTime: li.Price,
			Description: li.Description,
		}
		if row.ID == 0 {
			row.ID = b.id()
		}
		for _, it := range b.items {
			if it.ID == li.ItemID {
				row.ItemName = it.Name
				row.ItemDescription = it.Description
			}
		}
		out = append(out, row)
	}
	return out
}

func (b *Backend) createRecord(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		fail(c, http.StatusBadRequest, "Invalid form")
		return
	}
	form := c.Request.MultipartForm
	get := func(k string) string {
		if v := form.Value[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if get("customerName") == "" || get("deviceIssue") == "" {
		fail(c, http.StatusBadRequest, "Missing required fields")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rec := &entity.RepairRecord{
		ID:                 b.id(),
		CustomerName:       get("customerName"),
		CustomerNumber:     get("customerNumber"),
		ExpectedRepairDate: parseDate(get("expectedRepairDate")),
		DeviceTakenOn:      parseDate(get("deviceTakenOn")),
		DeviceCompany:      get("deviceCompany"),
		DeviceModel:        get("deviceModel"),
		DeviceColor:        get("deviceColor"),
		DevicePassword:     get("devicePassword"),
		DeviceIssue:        get("deviceIssue"),
		Description:        get("description"),
		Status:             entity.StatusPending,
		CreatedAt:          time.Now(),
	}
	rec.UpdatedAt = rec.CreatedAt
	if v := get("estimatedCost"); v != "" {
		d, _ := decimal.NewFromString(v)
		rec.EstimatedCost = decimal.NewNullDecimal(d)
	}
	if v := get("advanceAmount"); v != "" {
		d, _ := decimal.NewFromString(v)
		rec.AdvanceAmount = decimal.NewNullDecimal(d)
	}
	if v := get("repairItems"); v != "" {
		var items []entity.LineItemInput
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			fail(c, http.StatusBadRequest, "Invalid repairItems")
			return
		}
		rec.RepairItems = b.lineItems(items)
	}
	b.records[rec.ID] = rec

	for field, kind := range map[string]entity.MediaKind{"images": entity.MediaImage, "videos": entity.MediaVideo} {
		for _, fh := range form.File[field] {
			f, err := fh.Open()
			if err != nil {
				continue
			}
			data, _ := io.ReadAll(f)
			f.Close()
			b.addFileLocked(rec.ID, kind, fh.Header.Get("Content-Type"), data)
		}
	}
	ok(c, http.StatusCreated, "Repair record created successfully", rec)
}

func (b *Backend) patchRecord(c *gin.Context) {
	var patch map[string]json.RawMessage
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, found := b.lookup(c)
	if !found {
		return
	}

	for key, raw := range patch {
		switch key {
		case "status":
			var s entity.RepairStatus
			json.Unmarshal(raw, &s)
			if !s.Valid() {
				fail(c, http.StatusBadRequest, "Invalid status")
				return
			}
			rec.Status = s
		case "assignedToId":
			var id int64
			json.Unmarshal(raw, &id)
			var assignee *entity.Worker
			for _, fu := range b.users {
				if fu.user.ID == id {
					w := entity.Worker{ID: fu.user.ID, Name: fu.user.Name, Email: fu.user.Email, Role: fu.user.Role}
					assignee = &w
				}
			}
			if assignee == nil {
				fail(c, http.StatusBadRequest, "Worker not found")
				return
			}
			rec.AssignedTo = assignee
		case "expectedRepairDate":
			var t time.Time
			json.Unmarshal(raw, &t)
			rec.ExpectedRepairDate = t
		case "finalCost":
			var d decimal.Decimal
			json.Unmarshal(raw, &d)
			rec.FinalCost = decimal.NewNullDecimal(d)
		case "customerName":
			json.Unmarshal(raw, &rec.CustomerName)
		case "customerNumber":
			json.Unmarshal(raw, &rec.CustomerNumber)
		case "repairItems":
			var items []entity.LineItemInput
			json.Unmarshal(raw, &items)
			rec.RepairItems = b.lineItems(items)
		}
	}
	rec.UpdatedAt = time.Now()

	if b.PartialPatch {
		ok(c, http.StatusOK, "Repair record updated successfully", gin.H{
			"id": rec.ID, "status": rec.Status, "updatedAt": rec.UpdatedAt,
		})
		return
	}
	ok(c, http.StatusOK, "Repair record updated successfully", rec)
}

func (b *Backend) acceptJob(c *gin.Context) {
	user := currentUser(c)
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, found := b.lookup(c)
	if !found {
		return
	}
	if rec.Assigned() {
		fail(c, http.StatusBadRequest, "Job already accepted by another worker")
		return
	}
	rec.AssignedTo = &entity.Worker{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}
	rec.Status = entity.StatusInProgress
	rec.UpdatedAt = time.Now()
	ok(c, http.StatusOK, "Job accepted successfully", nil)
}

func (b *Backend) getFile(c *gin.Context) {
	fid, _ := strconv.ParseInt(c.Param("fileId"), 10, 64)
	b.mu.Lock()
	f, found := b.files[fid]
	failing := b.failFiles[fid]
	b.mu.Unlock()
	if failing {
		fail(c, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "File not found")
		return
	}
	c.Data(http.StatusOK, f.contentType, f.data)
}

// =============================================================================
// 目录
// =============================================================================

func (b *Backend) list(c *gin.Context, records interface{}, total int) {
	if b.BareLists {
		ok(c, http.StatusOK, "", records)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"records": records, "total": total})
}

func (b *Backend) listItems(c *gin.Context) {
	b.mu.Lock()
	items := append([]entity.Item{}, b.items...)
	b.mu.Unlock()
	b.list(c, items, len(items))
}

func (b *Backend) createItem(c *gin.Context) {
	var item entity.Item
	if err := c.ShouldBindJSON(&item); err != nil || item.Name == "" {
		fail(c, http.StatusBadRequest, "Name is required")
		return
	}
	item = b.SeedItem(item)
	ok(c, http.StatusCreated, "Item created", item)
}

func (b *Backend) updateItem(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	var in entity.Item
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			in.ID = id
			b.items[i] = in
			ok(c, http.StatusOK, "Item updated", in)
			return
		}
	}
	fail(c, http.StatusNotFound, "Item not found")
}

func (b *Backend) deleteItem(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			ok(c, http.StatusOK, "Item deleted", nil)
			return
		}
	}
	fail(c, http.StatusNotFound, "Item not found")
}

func (b *Backend) listProducts(c *gin.Context) {
	b.mu.Lock()
	products := append([]entity.Product{}, b.products...)
	b.mu.Unlock()
	b.list(c, products, len(products))
}

func (b *Backend) createProduct(c *gin.Context) {
	var p entity.Product
	if err := c.ShouldBindJSON(&p); err != nil || p.Name == "" {
		fail(c, http.StatusBadRequest, "Name is required")
		return
	}
	b.mu.Lock()
	p.ID = b.id()
	b.products = append(b.products, p)
	b.mu.Unlock()
	ok(c, http.StatusCreated, "Product created", p)
}

func (b *Backend) updateProduct(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	var in entity.Product
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.products {
		if b.products[i].ID == id {
			in.ID = id
			b.products[i] = in
			ok(c, http.StatusOK, "Product updated", in)
			return
		}
	}
	fail(c, http.StatusNotFound, "Product not found")
}

func (b *Backend) deleteProduct(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.products {
		if b.products[i].ID == id {
			b.products = append(b.products[:i], b.products[i+1:]...)
			ok(c, http.StatusOK, "Product deleted", nil)
			return
		}
	}
	fail(c, http.StatusNotFound, "Product not found")
}

func (b *Backend) workers() []entity.Worker {
	var out []entity.Worker
	for _, fu := range b.users {
		if fu.user.Role == entity.RoleWorker {
			out = append(out, entity.Worker{ID: fu.user.ID, Name: fu.user.Name, Email: fu.user.Email, Role: fu.user.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if out == nil {
		out = []entity.Worker{}
	}
	return out
}

func (b *Backend) listWorkers(c *gin.Context) {
	b.mu.Lock()
	workers := b.workers()
	b.mu.Unlock()
	b.list(c, workers, len(workers))
}

func (b *Backend) createWorker(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	_, exists := b.users[strings.ToLower(req.Email)]
	b.mu.Unlock()
	if exists {
		fail(c, http.StatusConflict, "Email already in use")
		return
	}
	u := b.AddUser(req.Name, req.Email, req.Password, entity.RoleWorker)
	ok(c, http.StatusCreated, "Worker created successfully", entity.Worker{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
}

func (b *Backend) updateWorker(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, fu := range b.users {
		if fu.user.ID != id {
			continue
		}
		if req.Name != "" {
			fu.user.Name = req.Name
		}
		if req.Password != "" {
			fu.password = req.Password
		}
		if req.Email != "" && !strings.EqualFold(req.Email, fu.user.Email) {
			fu.user.Email = req.Email
			delete(b.users, key)
			b.users[strings.ToLower(req.Email)] = fu
		}
		ok(c, http.StatusOK, "Worker updated successfully", entity.Worker{ID: fu.user.ID, Name: fu.user.Name, Email: fu.user.Email, Role: fu.user.Role})
		return
	}
	fail(c, http.StatusNotFound, "Worker not found")
}

func (b *Backend) deleteWorker(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, fu := range b.users {
		if fu.user.ID == id && fu.user.Role == entity.RoleWorker {
			delete(b.users, key)
			ok(c, http.StatusOK, "Worker deleted successfully", nil)
			return
		}
	}
	fail(c, http.StatusNotFound, "Worker not found")
}
