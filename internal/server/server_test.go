package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
	"gardenhub/internal/config"
	"gardenhub/internal/delivery"
	"gardenhub/internal/verification"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type outbox struct {
	mu   sync.Mutex
	sent []delivery.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg delivery.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return o.err
}

func (o *outbox) fail(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		t.Fatal("no messages sent")
	}
	code := sixDigits.FindString(o.sent[len(o.sent)-1].Text)
	if code == "" {
		t.Fatalf("no code in %q", o.sent[len(o.sent)-1].Text)
	}
	return code
}

type testServer struct {
	srv     *Server
	handler http.Handler
	outbox  *outbox
	clock   *testClock
	mr      *miniredis.Miniredis
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &testClock{now: time.Now()}
	box := &outbox{}
	codes := verification.NewCoordinator(
		verification.NewMemoryStore(verification.WithClock(clock.Now)),
		box,
		zap.NewNop(),
	)
	sessions := &auth.SessionIssuer{
		Tokens:   auth.NewTokenManager("test-secret", 7*24*time.Hour),
		Sessions: &auth.SessionStore{Redis: client},
	}
	limiter := &auth.RateLimiter{Redis: client}
	flow := authflow.New(authflow.Deps{
		Users:   auth.NewMemoryUserStore(),
		Codes:   codes,
		Hasher:  &auth.BcryptHasher{Cost: bcrypt.MinCost},
		Tokens:  sessions,
		TOTP:    auth.NewTOTPService("GardenHub"),
		Limiter: limiter,
		Logger:  zap.NewNop(),
		Now:     clock.Now,
	}, !cfg.NoEmailVerify)

	srv := NewServer(cfg, flow, sessions, limiter, &auth.AuditLogger{Redis: client, MaxLen: 50}, zap.NewNop())
	return &testServer{srv: srv, handler: srv.Router(), outbox: box, clock: clock, mr: mr}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
}

func wantErrorCode(t *testing.T, body map[string]interface{}, code string) {
	t.Helper()
	if body["code"] != code || body["errorCode"] != code {
		t.Fatalf("error code = %v/%v, want %s", body["code"], body["errorCode"], code)
	}
	if body["success"] != false {
		t.Fatalf("success = %v, want false", body["success"])
	}
}

var bob = map[string]string{"name": "Bob", "email": "bob@example.com", "password": "hunter22"}

// signIn registers and verifies bob and returns his session token.
func (ts *testServer) signIn(t *testing.T) string {
	t.Helper()
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)
	rec, body := ts.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{
		"email": bob["email"],
		"code":  ts.outbox.lastCode(t),
	}, "")
	wantStatus(t, rec, http.StatusOK)
	return body["token"].(string)
}

func TestRegisterVerifyAndSession(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	rec, body := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)
	if body["verificationRequired"] != true || body["verificationSent"] != true {
		t.Fatalf("register body = %v", body)
	}
	if body["expiresIn"] != float64(600) {
		t.Fatalf("expiresIn = %v, want 600", body["expiresIn"])
	}

	rec, body = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": bob["email"], "password": bob["password"]}, "")
	wantStatus(t, rec, http.StatusForbidden)
	wantErrorCode(t, body, "EMAIL_NOT_VERIFIED")

	code := ts.outbox.lastCode(t)
	rec, body = ts.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{"email": "BOB@example.com", "code": code}, "")
	wantStatus(t, rec, http.StatusOK)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("no token in %v", body)
	}
	user := body["user"].(map[string]interface{})
	if user["emailVerified"] != true {
		t.Fatalf("user = %v", user)
	}

	rec, body = ts.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{"email": bob["email"], "code": code}, "")
	wantStatus(t, rec, http.StatusOK)
	if body["alreadyVerified"] != true || body["token"] != nil {
		t.Fatalf("second verify = %v", body)
	}

	rec, body = ts.do(t, http.MethodGet, "/api/auth/me", nil, token)
	wantStatus(t, rec, http.StatusOK)
	if body["user"].(map[string]interface{})["email"] != "bob@example.com" {
		t.Fatalf("me = %v", body)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/logout", nil, token)
	wantStatus(t, rec, http.StatusNoContent)

	rec, body = ts.do(t, http.MethodGet, "/api/auth/me", nil, token)
	wantStatus(t, rec, http.StatusUnauthorized)
	wantErrorCode(t, body, "UNAUTHORIZED")
}

func TestMeRequiresBearer(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec, _ := ts.do(t, http.MethodGet, "/api/auth/me", nil, "")
	wantStatus(t, rec, http.StatusUnauthorized)
	rec, _ = ts.do(t, http.MethodGet, "/api/auth/me", nil, "not-a-jwt")
	wantStatus(t, rec, http.StatusUnauthorized)
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.signIn(t)

	wrong, wrongBody := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": bob["email"], "password": "nope-nope"}, "")
	unknown, unknownBody := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "carol@example.com", "password": "nope-nope"}, "")

	wantStatus(t, wrong, http.StatusUnauthorized)
	wantStatus(t, unknown, http.StatusUnauthorized)
	wantErrorCode(t, wrongBody, "INVALID_CREDENTIALS")
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("bodies differ:\n%s\n%s", wrong.Body.String(), unknown.Body.String())
	}
	if unknownBody["message"] != "Invalid email or password" {
		t.Fatalf("message = %v", unknownBody["message"])
	}
}

func TestLoginBansAfterRepeatedFailures(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.signIn(t)

	creds := map[string]string{"email": bob["email"], "password": "wrong-password"}
	for i := 0; i < 5; i++ {
		rec, _ := ts.do(t, http.MethodPost, "/api/auth/login", creds, "")
		wantStatus(t, rec, http.StatusUnauthorized)
	}
	rec, body := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": bob["email"], "password": bob["password"]}, "")
	wantStatus(t, rec, http.StatusTooManyRequests)
	wantErrorCode(t, body, codeRateLimited)
}

func TestRegisterValidationDetails(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec, body := ts.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Bob", "email": "not-an-email", "password": "123",
	}, "")
	wantStatus(t, rec, http.StatusBadRequest)
	wantErrorCode(t, body, "VALIDATION_ERROR")
	details, _ := body["details"].(map[string]interface{})
	if details["email"] == nil || details["password"] == nil {
		t.Fatalf("details = %v", body["details"])
	}

	rec, body = ts.do(t, http.MethodPost, "/api/auth/register", map[string]string{"unexpected": "x"}, "")
	wantStatus(t, rec, http.StatusBadRequest)
	wantErrorCode(t, body, "VALIDATION_ERROR")
}

func TestRegisterDuplicate(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.signIn(t)
	dup := map[string]string{"name": "Bob", "email": "Bob@Example.com", "password": "hunter22"}
	rec, body := ts.do(t, http.MethodPost, "/api/auth/register", dup, "")
	wantStatus(t, rec, http.StatusBadRequest)
	wantErrorCode(t, body, "USER_EXISTS")
}

func TestResendCooldown(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)

	resend := map[string]string{"email": bob["email"], "type": "email"}
	rec, body := ts.do(t, http.MethodPost, "/api/auth/resend-verification", resend, "")
	wantStatus(t, rec, http.StatusOK)
	if body["expiresIn"] != float64(600) {
		t.Fatalf("expiresIn = %v", body["expiresIn"])
	}

	rec, body = ts.do(t, http.MethodPost, "/api/auth/resend-verification", resend, "")
	wantStatus(t, rec, http.StatusTooManyRequests)
	wantErrorCode(t, body, codeRateLimited)
	if body["retryAfter"] == nil {
		t.Fatalf("missing retryAfter: %v", body)
	}
}

func TestResendErrorClearsCooldown(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	req := map[string]string{"email": "ghost@example.com"}
	for i := 0; i < 2; i++ {
		rec, body := ts.do(t, http.MethodPost, "/api/auth/resend-verification", req, "")
		wantStatus(t, rec, http.StatusNotFound)
		wantErrorCode(t, body, "USER_NOT_FOUND")
	}
}

func TestEmailTwoFactorLoginAndExpiry(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	token := ts.signIn(t)

	rec, body := ts.do(t, http.MethodPost, "/api/auth/2fa/setup", map[string]string{"method": "email"}, token)
	wantStatus(t, rec, http.StatusOK)
	if body["expiresIn"] != float64(300) {
		t.Fatalf("setup = %v", body)
	}
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"method": "email", "code": ts.outbox.lastCode(t)}, token)
	wantStatus(t, rec, http.StatusOK)

	creds := map[string]string{"email": bob["email"], "password": bob["password"]}
	rec, body = ts.do(t, http.MethodPost, "/api/auth/login", creds, "")
	wantStatus(t, rec, http.StatusOK)
	if body["requires2FA"] != true || body["method"] != "email" || body["token"] != nil {
		t.Fatalf("login = %v", body)
	}

	ts.clock.Advance(5*time.Minute + time.Second)
	rec, body = ts.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{
		"email": bob["email"], "code": ts.outbox.lastCode(t), "type": "email",
	}, "")
	wantStatus(t, rec, http.StatusBadRequest)
	wantErrorCode(t, body, "CODE_EXPIRED")

	ts.mr.FastForward(auth.SendCooldown + time.Second)
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/send-2fa", map[string]string{"email": bob["email"]}, "")
	wantStatus(t, rec, http.StatusOK)
	rec, body = ts.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{
		"email": bob["email"], "code": ts.outbox.lastCode(t), "type": "email",
	}, "")
	wantStatus(t, rec, http.StatusOK)
	if body["token"] == nil {
		t.Fatalf("verify-2fa = %v", body)
	}
}

func TestWrongCodeReportsAttemptsRemaining(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)

	code := ts.outbox.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec, body := ts.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{"email": bob["email"], "code": wrong}, "")
	wantStatus(t, rec, http.StatusBadRequest)
	wantErrorCode(t, body, "INVALID_CODE")
	if body["attemptsRemaining"] != float64(4) {
		t.Fatalf("attemptsRemaining = %v", body["attemptsRemaining"])
	}
}

func TestPasswordReset(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	token := ts.signIn(t)

	rec, body := ts.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@example.com"}, "")
	wantStatus(t, rec, http.StatusOK)
	silent := body["message"]

	rec, body = ts.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": bob["email"]}, "")
	wantStatus(t, rec, http.StatusOK)
	if body["message"] != silent {
		t.Fatalf("messages differ: %v vs %v", body["message"], silent)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"email": bob["email"], "code": ts.outbox.lastCode(t), "password": "new-secret",
	}, "")
	wantStatus(t, rec, http.StatusOK)

	rec, _ = ts.do(t, http.MethodGet, "/api/auth/me", nil, token)
	wantStatus(t, rec, http.StatusUnauthorized)

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": bob["email"], "password": "new-secret"}, "")
	wantStatus(t, rec, http.StatusOK)
}

func TestRegisterWithoutVerificationGate(t *testing.T) {
	ts := newTestServer(t, config.Config{NoEmailVerify: true})
	rec, body := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)
	if body["verificationRequired"] != false {
		t.Fatalf("register = %v", body)
	}
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": bob["email"], "password": bob["password"]}, "")
	wantStatus(t, rec, http.StatusOK)
}

func TestStatusForCode(t *testing.T) {
	cases := map[authflow.Code]int{
		authflow.CodeValidation:          400,
		authflow.CodeUserExists:          400,
		authflow.CodeAlreadyVerified:     400,
		authflow.CodePhoneRequired:       400,
		authflow.CodeNotFound:            400,
		authflow.CodeExpired:             400,
		authflow.CodeTooManyAttempts:     400,
		authflow.CodeInvalidCode:         400,
		authflow.CodeInvalidCredentials:  401,
		authflow.CodeEmailNotVerified:    403,
		authflow.CodeTwoFactorNotEnabled: 403,
		authflow.CodeUserNotFound:        404,
		authflow.CodeDeliveryFailed:      500,
		authflow.CodeInternal:            500,
		authflow.Code("SOMETHING_NEW"):   500,
	}
	for code, want := range cases {
		if got := statusForCode(code); got != want {
			t.Errorf("statusForCode(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestWriteFlowErrorHidesCause(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ts.srv.writeFlowError(rec, req, errors.New("dial tcp 10.0.0.5:5432: refused"))

	wantStatus(t, rec, http.StatusInternalServerError)
	if bytes.Contains(rec.Body.Bytes(), []byte("10.0.0.5")) {
		t.Fatalf("cause leaked: %s", rec.Body.String())
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := newIPRateLimiter(2)
	if !l.allow("1.1.1.1") || !l.allow("1.1.1.1") {
		t.Fatal("burst should allow two requests")
	}
	if l.allow("1.1.1.1") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("2.2.2.2") {
		t.Fatal("other IPs have their own bucket")
	}
	if !newIPRateLimiter(0).allow("1.1.1.1") {
		t.Fatal("zero limit disables limiting")
	}
}

func TestLimitByIP(t *testing.T) {
	ts := newTestServer(t, config.Config{RateLimitPerMinute: 1})
	login := map[string]string{"email": "x@example.com", "password": "whatever"}
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/login", login, "")
	wantStatus(t, rec, http.StatusUnauthorized)
	rec, body := ts.do(t, http.MethodPost, "/api/auth/login", login, "")
	wantStatus(t, rec, http.StatusTooManyRequests)
	wantErrorCode(t, body, codeRateLimited)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.srv.HealthChecks["redis"] = func(context.Context) error { return nil }

	rec, body := ts.do(t, http.MethodGet, "/healthz", nil, "")
	wantStatus(t, rec, http.StatusOK)
	if body["checks"].(map[string]interface{})["redis"] != "ok" {
		t.Fatalf("healthz = %v", body)
	}

	ts.srv.HealthChecks["postgres"] = func(context.Context) error { return fmt.Errorf("down") }
	rec, _ = ts.do(t, http.MethodGet, "/healthz", nil, "")
	wantStatus(t, rec, http.StatusServiceUnavailable)

	rec, _ = ts.do(t, http.MethodGet, "/metrics", nil, "")
	wantStatus(t, rec, http.StatusOK)
}

func TestClientIPTrustsOnlyConfiguredProxies(t *testing.T) {
	trusted := parseProxyCIDRs([]string{"10.0.0.0/8", "192.168.1.1"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")
	if got := clientIP(req, trusted); got != "203.0.113.9" {
		t.Fatalf("clientIP via proxy = %q", got)
	}

	req.RemoteAddr = "198.51.100.7:5555"
	if got := clientIP(req, trusted); got != "198.51.100.7" {
		t.Fatalf("clientIP from untrusted = %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc.def")
	if got := bearerToken(req); got != "abc.def" {
		t.Fatalf("bearerToken = %q", got)
	}
	req.Header.Set("Authorization", "Basic xyz")
	if got := bearerToken(req); got != "" {
		t.Fatalf("basic auth should be ignored, got %q", got)
	}
}

func TestAccessTableCoversRoutes(t *testing.T) {
	if !isPublicAccess(accessRoles(http.MethodPost, "/api/auth/login")) {
		t.Fatal("login must be public")
	}
	roles := accessRoles(http.MethodGet, "/api/auth/me")
	if isPublicAccess(roles) || !roleAllowed(roles, auth.RoleUser) || !roleAllowed(roles, auth.RoleAdmin) {
		t.Fatalf("me roles = %v", roles)
	}
}

func TestVerifyEmailOnVerifiedAccountReturnsNoToken(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.signIn(t)

	rec, body := ts.do(t, http.MethodPost, "/api/auth/verify-email", map[string]string{
		"email": bob["email"], "code": "999999",
	}, "")
	wantStatus(t, rec, http.StatusOK)
	if body["alreadyVerified"] != true {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["token"]; ok {
		t.Fatalf("token issued without a code: %v", body)
	}
}

func TestRepeatedLoginKeepsTwoFactorCode(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	token := ts.signIn(t)
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/2fa/setup", map[string]string{"method": "email"}, token)
	wantStatus(t, rec, http.StatusOK)
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/2fa/confirm", map[string]string{"method": "email", "code": ts.outbox.lastCode(t)}, token)
	wantStatus(t, rec, http.StatusOK)

	creds := map[string]string{"email": bob["email"], "password": bob["password"]}
	rec, body := ts.do(t, http.MethodPost, "/api/auth/login", creds, "")
	wantStatus(t, rec, http.StatusOK)
	if body["expiresIn"] != float64(300) {
		t.Fatalf("first login = %v", body)
	}
	code := ts.outbox.lastCode(t)

	rec, body = ts.do(t, http.MethodPost, "/api/auth/login", creds, "")
	wantStatus(t, rec, http.StatusOK)
	if body["requires2FA"] != true || body["expiresIn"] != nil {
		t.Fatalf("second login = %v", body)
	}
	if got := ts.outbox.lastCode(t); got != code {
		t.Fatalf("code replaced: %s -> %s", code, got)
	}
}

func TestDeliveryFailureCarriesTransportDetail(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", bob, "")
	wantStatus(t, rec, http.StatusCreated)

	ts.outbox.fail(errors.New("smtp: 421 service not available"))
	rec, body := ts.do(t, http.MethodPost, "/api/auth/resend-verification", map[string]string{"email": bob["email"]}, "")
	wantStatus(t, rec, http.StatusInternalServerError)
	wantErrorCode(t, body, "DELIVERY_FAILED")
	detail, _ := body["detail"].(string)
	if !strings.Contains(detail, "421 service not available") {
		t.Fatalf("detail = %q", detail)
	}
}
