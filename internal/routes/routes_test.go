package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"rental-portal/internal/access"
	"rental-portal/internal/blob"
	"rental-portal/internal/config"
	"rental-portal/internal/email"
	"rental-portal/internal/identity"
	"rental-portal/internal/jwt"
	"rental-portal/internal/nonce"
	"rental-portal/internal/pubsub"
	"rental-portal/internal/rentals"
	"rental-portal/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	testPassword   = "open-sesame"
	testAdminEmail = "admin@example.com"
	testBaseURL    = "http://portal.test"
)

// Page stubs standing in for the embedded layouts.
const testTemplates = `
{{define "enter.html.tmpl"}}enter{{end}}
{{define "home.html.tmpl"}}home{{end}}
{{define "login.html.tmpl"}}login {{.Next}}{{end}}
{{define "signup.html.tmpl"}}signup{{end}}
{{define "rentals.html.tmpl"}}{{range .Rentals}}{{.Name}};{{end}}{{end}}
{{define "rental.html.tmpl"}}{{with .Rental}}{{.Name}}{{else}}missing{{end}}{{end}}
{{define "request.html.tmpl"}}{{with .Rental}}{{.ID}}{{end}}{{end}}
{{define "talk.html.tmpl"}}room={{.RoomID}} allowed={{.Allowed}}{{end}}
{{define "admin.html.tmpl"}}admin{{end}}
{{define "admin_rentals.html.tmpl"}}admin rentals{{end}}
{{define "admin_requests.html.tmpl"}}admin requests{{end}}
{{define "admin_users.html.tmpl"}}admin users{{end}}
{{define "error.html.tmpl"}}{{.Status}} {{.Message}}{{end}}
`

func newTestServices(t *testing.T) *Services {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config.Cfg = &config.Config{
		AccessPassword: testPassword,
		Secret:         "test-secret",
		AdminEmail:     testAdminEmail,
		UserAuthTTL:    7,
		Blob:           config.Blob{Type: "local", Bucket: "rentals"},
	}

	nonce.Store = nonce.NewMemoryStore()
	t.Cleanup(func() { nonce.Store.Close() })

	broker := pubsub.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })

	store, err := storage.OpenSQLite(context.Background(), &config.Storage{Type: "sqlite"}, broker)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir(), "rentals", testBaseURL)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	notifier := email.NewNotifier(email.NewClient(&config.Email{}), testAdminEmail, testBaseURL)

	return &Services{
		Config:     config.Cfg,
		Store:      store,
		Identities: identity.NewLocalProvider(store),
		Blobs:      blobs,
		Rentals:    rentals.NewService(store, blobs, notifier, "ja"),
		AllowList:  access.NewAllowList(store, testAdminEmail),
		Notifier:   notifier,
		RBAC:       access.GetRBAC(),
	}
}

func newTestEngine(t *testing.T, s *Services) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("").Parse(testTemplates)))
	r.Use(ErrorHandler(), AccessGate(), SessionMiddleware(s))
	Register(r, s)
	return r
}

func accessCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, err := jwt.GenerateJWT(jwt.NewAccessClaim())
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	return &http.Cookie{Name: config.ACCESS_COOKIE_NAME, Value: token}
}

// signIn creates an allowed account and returns its session cookie.
func signIn(t *testing.T, s *Services, address string, admin bool) (*identity.Identity, *http.Cookie) {
	t.Helper()
	ctx := context.Background()

	if err := s.AllowList.Add(ctx, address, "test"); err != nil {
		t.Fatalf("AllowList.Add failed: %v", err)
	}
	id, err := s.Identities.SignUp(ctx, address, "secret-password")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if admin {
		if _, err := s.Identities.SetAdminByEmail(ctx, address, true); err != nil {
			t.Fatalf("SetAdminByEmail failed: %v", err)
		}
	}

	claims, err := jwt.NewSessionClaim(id.UID, id.Email, id.DisplayName)
	if err != nil {
		t.Fatalf("NewSessionClaim failed: %v", err)
	}
	token, err := jwt.GenerateJWT(claims)
	if err != nil {
		t.Fatalf("GenerateJWT failed: %v", err)
	}
	return id, &http.Cookie{Name: config.SESSION_COOKIE_NAME, Value: token}
}

func doJSON(r http.Handler, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doPage(r http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %v: %s", err, w.Body.String())
	}
	return out
}

func TestAccessGate(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	for _, path := range []string{"/home", "/rentals", "/api/rentals", "/admin", "/talk/abc"} {
		w := doPage(r, path)
		if w.Code != http.StatusFound {
			t.Errorf("GET %s without cookie: expected 302, got %d", path, w.Code)
			continue
		}
		if loc := w.Header().Get("Location"); loc != ENTRY_PAGE {
			t.Errorf("GET %s without cookie: expected redirect to %s, got %q", path, ENTRY_PAGE, loc)
		}
	}

	if w := doPage(r, ENTRY_PAGE); w.Code != http.StatusOK {
		t.Errorf("entry page should be reachable without cookie, got %d", w.Code)
	}

	w := doPage(r, "/rentals", accessCookie(t))
	if w.Code != http.StatusOK {
		t.Errorf("expected pass-through with access cookie, got %d", w.Code)
	}
}

func TestAccessGate_PresenceOnly(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	w := doPage(r, "/home", &http.Cookie{Name: config.ACCESS_COOKIE_NAME, Value: "not-a-token"})
	if w.Code != http.StatusOK {
		t.Errorf("gate checks presence only, expected 200, got %d", w.Code)
	}
}

func TestAccessPassword(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	w := doJSON(r, http.MethodPost, "/api/access", gin.H{"password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", w.Code)
	}
	if body := decode(t, w); body["ok"] != false {
		t.Errorf("wrong password: expected ok=false, got %v", body)
	}
	if c := responseCookie(w, config.ACCESS_COOKIE_NAME); c != nil {
		t.Errorf("wrong password must not set a cookie, got %v", c)
	}

	w = doJSON(r, http.MethodPost, "/api/access", gin.H{"password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("correct password: expected 200, got %d", w.Code)
	}
	if body := decode(t, w); body["ok"] != true {
		t.Errorf("correct password: expected ok=true, got %v", body)
	}

	c := responseCookie(w, config.ACCESS_COOKIE_NAME)
	if c == nil {
		t.Fatal("correct password: access cookie not set")
	}
	if config.ACCESS_TTL != 604800 {
		t.Errorf("ACCESS_TTL = %d, want seven days", config.ACCESS_TTL)
	}
	if c.MaxAge != 604800 {
		t.Errorf("expected Max-Age 604800, got %d", c.MaxAge)
	}
	if !c.HttpOnly || c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("unexpected cookie attributes: %+v", c)
	}
	if _, err := jwt.DecodeAccessJWT(c.Value); err != nil {
		t.Errorf("access cookie is not a valid access token: %v", err)
	}
}

func TestAccessPassword_UnsetNeverMatches(t *testing.T) {
	s := newTestServices(t)
	config.Cfg.AccessPassword = ""
	r := newTestEngine(t, s)

	w := doJSON(r, http.MethodPost, "/api/access", gin.H{"password": ""})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no configured password, got %d", w.Code)
	}
}

func TestLogout_ClearsCookies(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	_, session := signIn(t, s, "user@example.com", false)

	w := doJSON(r, http.MethodPost, "/api/logout", nil, session)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, name := range []string{config.ACCESS_COOKIE_NAME, config.SESSION_COOKIE_NAME} {
		c := responseCookie(w, name)
		if c == nil || c.MaxAge >= 0 {
			t.Errorf("cookie %s should be cleared, got %+v", name, c)
		}
	}

	// The revoked session no longer signs in.
	w = doJSON(r, http.MethodGet, "/api/session", nil, accessCookie(t), session)
	if body := decode(t, w); body["authenticated"] != false {
		t.Errorf("revoked session should be signed out, got %v", body)
	}
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)
	ctx := context.Background()

	w := doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{
		"email": "new@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, gate)
	if w.Code != http.StatusForbidden {
		t.Fatalf("signup off the allow-list: expected 403, got %d", w.Code)
	}

	if err := s.AllowList.Add(ctx, "new@example.com", "test"); err != nil {
		t.Fatalf("AllowList.Add failed: %v", err)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{
		"email": "new@example.com", "password": "secret1", "confirmPassword": "secret2",
	}, gate)
	if w.Code != http.StatusBadRequest {
		t.Errorf("password mismatch: expected 400, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{
		"email": " New@Example.com ", "password": "secret1", "confirmPassword": "secret1",
	}, gate)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if responseCookie(w, config.SESSION_COOKIE_NAME) == nil {
		t.Error("signup should set the session cookie")
	}
	users, err := s.Store.ListUsers(ctx)
	if err != nil || len(users) != 1 || users[0].Email != "new@example.com" {
		t.Errorf("expected one profile for new@example.com, got %v (%v)", users, err)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{
		"email": "new@example.com", "password": "secret1", "confirmPassword": "secret1",
	}, gate)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate signup: expected 409, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": "new@example.com", "password": "nope"}, gate)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/login?next=/talk/x", gin.H{"email": "NEW@example.com", "password": "secret1"}, gate)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["redirect"] != "/talk/x" {
		t.Errorf("expected redirect to next, got %v", body["redirect"])
	}
	session := responseCookie(w, config.SESSION_COOKIE_NAME)
	if session == nil {
		t.Fatal("login should set the session cookie")
	}
	if session.MaxAge != int(jwt.SessionTTL()) {
		t.Errorf("expected session Max-Age %d, got %d", jwt.SessionTTL(), session.MaxAge)
	}

	w = doJSON(r, http.MethodGet, "/api/session", nil, gate, session)
	body := decode(t, w)
	if body["authenticated"] != true || body["email"] != "new@example.com" || body["isAdmin"] != false {
		t.Errorf("unexpected session view: %v", body)
	}

	// Removed from the allow-list after sign-up.
	if err := s.AllowList.Remove(ctx, "new@example.com"); err != nil {
		t.Fatalf("AllowList.Remove failed: %v", err)
	}
	w = doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": "new@example.com", "password": "secret1"}, gate)
	if w.Code != http.StatusForbidden {
		t.Errorf("login off the allow-list: expected 403, got %d", w.Code)
	}
	if responseCookie(w, config.SESSION_COOKIE_NAME) != nil {
		t.Error("refused login must not set a session cookie")
	}
}

func TestLogin_AdminEmailAlwaysAllowed(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)

	if _, err := s.Identities.SignUp(context.Background(), testAdminEmail, "secret1"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	w := doJSON(r, http.MethodPost, "/api/auth/login", gin.H{"email": testAdminEmail, "password": "secret1"}, gate)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["redirect"] != "/admin" {
		t.Errorf("expected default redirect /admin, got %v", body["redirect"])
	}
}

func TestApprovalRequest(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)

	w := doJSON(r, http.MethodPost, "/api/auth/approval", gin.H{"email": ""}, gate)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty e-mail: expected 400, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/approval", gin.H{"email": "Someone@Example.com"}, gate)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	requests, err := s.Store.ListAllowRequests(context.Background())
	if err != nil || len(requests) != 1 || requests[0].Email != "someone@example.com" {
		t.Errorf("expected one request for someone@example.com, got %v (%v)", requests, err)
	}
}

func TestRentals_Public(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)
	ctx := context.Background()

	for _, rental := range []storage.Rental{
		{Name: "テント", Category: "アウトドア"},
		{Name: "カメラ", Category: "家電"},
		{Name: "寝袋", Category: "アウトドア"},
	} {
		if _, err := s.Store.CreateRental(ctx, rental); err != nil {
			t.Fatalf("CreateRental failed: %v", err)
		}
	}

	w := doJSON(r, http.MethodGet, "/api/rentals", nil, gate)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []storage.Rental
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 rentals, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Category == cur.Category && prev.Name == cur.Name {
			t.Errorf("duplicate entry at %d", i)
		}
	}

	w = doJSON(r, http.MethodGet, "/api/rentals/"+list[0].ID, nil, gate)
	if w.Code != http.StatusOK {
		t.Errorf("detail: expected 200, got %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/rentals/missing", nil, gate)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing rental: expected 404, got %d", w.Code)
	}

	w = doPage(r, "/rentals/missing", gate)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "missing") {
		t.Errorf("missing rental page: expected 404 with the not-found text, got %d %q", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/api/rentals/"+list[0].ID+"/qr.png", nil, gate)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("qr code: expected 200 image/png, got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("qr code body is not a PNG")
	}
}

func TestRequestPage_MissingRentalID(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	w := doPage(r, "/request", accessCookie(t))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/rentals" {
		t.Errorf("expected redirect to /rentals, got %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestSubmitRequest(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)
	ctx := context.Background()

	rental, err := s.Store.CreateRental(ctx, storage.Rental{Name: "テント", Category: "アウトドア"})
	if err != nil {
		t.Fatalf("CreateRental failed: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/api/requests", gin.H{
		"rentalId":  rental.ID,
		"name":      "  山田 太郎 ",
		"contact":   " taro@example.com ",
		"startDate": "2025-06-01",
		"endDate":   "2025-06-03",
		"note":      "週末に使います",
	}, gate)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode(t, w); body["status"] != string(storage.RequestStatusPending) {
		t.Errorf("expected pending status, got %v", body["status"])
	}

	requests, err := s.Store.ListRentalRequests(ctx)
	if err != nil {
		t.Fatalf("ListRentalRequests failed: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected one stored request, got %d", len(requests))
	}
	got := requests[0]
	if got.Name != "山田 太郎" || got.Contact != "taro@example.com" || got.Status != storage.RequestStatusPending {
		t.Errorf("unexpected stored request: %+v", got)
	}
	if got.StartDate != "2025-06-01" || got.EndDate != "2025-06-03" {
		t.Errorf("unexpected dates: %s..%s", got.StartDate, got.EndDate)
	}

	tests := []struct {
		name   string
		body   gin.H
		status int
	}{
		{"reversed dates", gin.H{"rentalId": rental.ID, "name": "A", "startDate": "2025-06-03", "endDate": "2025-06-01"}, http.StatusBadRequest},
		{"missing name", gin.H{"rentalId": rental.ID, "name": "  ", "startDate": "2025-06-01", "endDate": "2025-06-03"}, http.StatusBadRequest},
		{"missing dates", gin.H{"rentalId": rental.ID, "name": "A"}, http.StatusBadRequest},
		{"bad date", gin.H{"rentalId": rental.ID, "name": "A", "startDate": "06/01/2025", "endDate": "2025-06-03"}, http.StatusBadRequest},
		{"unknown rental", gin.H{"rentalId": "nope", "name": "A", "startDate": "2025-06-01", "endDate": "2025-06-03"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/requests", tt.body, gate)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if body := decode(t, w); body["ok"] != false || body["message"] == "" {
				t.Errorf("expected an error message, got %v", body)
			}
		})
	}

	requests, _ = s.Store.ListRentalRequests(ctx)
	if len(requests) != 1 {
		t.Errorf("rejected requests must not be written, have %d", len(requests))
	}
}

func TestAdmin_RequiresClaim(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)

	w := doPage(r, "/admin", gate)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login?next="+url.QueryEscape("/admin") {
		t.Errorf("guest page: expected redirect to login, got %d %q", w.Code, w.Header().Get("Location"))
	}

	w = doJSON(r, http.MethodGet, "/api/admin/rentals", nil, gate)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("guest API: expected 401, got %d", w.Code)
	}

	_, user := signIn(t, s, "user@example.com", false)
	w = doJSON(r, http.MethodGet, "/api/admin/rentals", nil, gate, user)
	if w.Code != http.StatusForbidden {
		t.Errorf("user API: expected 403, got %d", w.Code)
	}

	// Matching the admin e-mail is display only.
	_, adminByEmail := signIn(t, s, testAdminEmail, false)
	w = doJSON(r, http.MethodGet, "/api/admin/rentals", nil, gate, adminByEmail)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin e-mail without claim: expected 403, got %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/api/session", nil, gate, adminByEmail)
	if body := decode(t, w); body["isAdminEmail"] != true || body["isAdmin"] != false {
		t.Errorf("expected isAdminEmail without isAdmin, got %v", body)
	}

	_, admin := signIn(t, s, "boss@example.com", true)
	w = doJSON(r, http.MethodGet, "/api/admin/rentals", nil, gate, admin)
	if w.Code != http.StatusOK {
		t.Errorf("admin API: expected 200, got %d", w.Code)
	}
	w = doPage(r, "/admin", gate, admin)
	if w.Code != http.StatusOK {
		t.Errorf("admin page: expected 200, got %d", w.Code)
	}
}

func multipartRental(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "tent.png")
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		fw.Write(image)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAdmin_RentalLifecycle(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)
	_, admin := signIn(t, s, "boss@example.com", true)

	send := func(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, body)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.AddCookie(gate)
		req.AddCookie(admin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	body, ct := multipartRental(t, map[string]string{"name": "テント"}, nil)
	if w := send(http.MethodPost, "/api/admin/rentals", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("create without image: expected 400, got %d", w.Code)
	}

	image := []byte("\x89PNG fake image")
	body, ct = multipartRental(t, map[string]string{"name": "テント", "category": "アウトドア", "description": "4人用"}, image)
	w := send(http.MethodPost, "/api/admin/rentals", body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created storage.Rental
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	prefix := testBaseURL + blob.SERVE_PREFIX + "/v0/b/rentals/o/"
	if !strings.HasPrefix(created.ImageURL, prefix) {
		t.Fatalf("expected image URL under %s, got %s", prefix, created.ImageURL)
	}

	// The download URL is served by the blob route.
	w = doPage(r, strings.TrimPrefix(created.ImageURL, testBaseURL), gate)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), image) {
		t.Errorf("blob: expected 200 with the uploaded bytes, got %d %q", w.Code, w.Body.String())
	}

	body, ct = multipartRental(t, map[string]string{"name": "大型テント", "category": "アウトドア"}, nil)
	w = send(http.MethodPut, "/api/admin/rentals/"+created.ID, body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated storage.Rental
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Name != "大型テント" || updated.ImageURL != created.ImageURL || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("unexpected update result: %+v", updated)
	}

	w = send(http.MethodDelete, "/api/admin/rentals/"+created.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if _, err := s.Store.GetRental(context.Background(), created.ID); err == nil {
		t.Error("rental document should be gone")
	}
	w = doPage(r, strings.TrimPrefix(created.ImageURL, testBaseURL), gate)
	if w.Code != http.StatusNotFound {
		t.Errorf("blob should be gone after delete, got %d", w.Code)
	}
}

func TestAdmin_AllowList(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)
	_, admin := signIn(t, s, "boss@example.com", true)

	w := doJSON(r, http.MethodPost, "/api/admin/allowed-emails", gin.H{"email": "not-an-address"}, gate, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid e-mail: expected 400, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/api/admin/allowed-emails", gin.H{"email": "Friend@Example.com"}, gate, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	allowed, _ := s.AllowList.IsAllowed(context.Background(), "friend@example.com")
	if !allowed {
		t.Error("friend@example.com should be allowed")
	}

	w = doJSON(r, http.MethodDelete, "/api/admin/allowed-emails/friend@example.com", nil, gate, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", w.Code)
	}
	allowed, _ = s.AllowList.IsAllowed(context.Background(), "friend@example.com")
	if allowed {
		t.Error("friend@example.com should no longer be allowed")
	}
}

func TestTalk_RoomPredicate(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)
	gate := accessCookie(t)

	alice, aliceCookie := signIn(t, s, "alice@example.com", false)
	bob, _ := signIn(t, s, "bob@example.com", false)
	_, admin := signIn(t, s, "boss@example.com", true)

	w := doJSON(r, http.MethodGet, "/api/talk/"+alice.UID+"/messages", nil, gate)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("guest: expected 401, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/talk/"+bob.UID+"/messages", nil, gate, aliceCookie)
	if w.Code != http.StatusForbidden {
		t.Errorf("other user's room: expected 403, got %d", w.Code)
	}
	w = doPage(r, "/talk/"+bob.UID, gate, aliceCookie)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "allowed=false") {
		t.Errorf("other user's room page: expected 403 denial, got %d %q", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/api/talk/"+alice.UID+"/messages", gin.H{"text": "こんにちは"}, gate, aliceCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	// Whitespace-only text is a no-op.
	w = doJSON(r, http.MethodPost, "/api/talk/"+alice.UID+"/messages", gin.H{"text": "   "}, gate, aliceCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("empty send: expected 200, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/talk/"+alice.UID+"/messages", nil, gate, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", w.Code)
	}
	var messages []storage.Message
	if err := json.Unmarshal(w.Body.Bytes(), &messages); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "こんにちは" || messages[0].SenderUID != alice.UID {
		t.Errorf("unexpected messages: %+v", messages)
	}
	if messages[0].SenderRole != storage.SenderRoleUser {
		t.Errorf("expected sender role user, got %q", messages[0].SenderRole)
	}
}

func TestBlob_UnknownBucket(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	w := doJSON(r, http.MethodGet, blob.SERVE_PREFIX+"/v0/b/other/o/rentals%2Fx.png?alt=media", nil, accessCookie(t))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown bucket, got %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, blob.SERVE_PREFIX+"/v0/b/rentals/o/rentals%2Fnothing.png?alt=media", nil, accessCookie(t))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing object, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServices(t)
	r := newTestEngine(t, s)

	w := doJSON(r, http.MethodGet, "/api/health", nil, accessCookie(t))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decode(t, w); body["message"] != "pong" {
		t.Errorf("unexpected body: %v", body)
	}
}
