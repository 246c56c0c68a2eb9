package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/MrXof/ElectiveFlow/apps/api/echo"
	"github.com/MrXof/ElectiveFlow/core/user"
	testutil "github.com/MrXof/ElectiveFlow/tests"
)

const pwd = "Str0ng#Passw0rd"

func Test_userApi_login(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "Ada", "ada@test.test", pwd, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.usrRepo, "Bob", "bob@test.test", pwd, []string{user.RoleStudent}, false)

	login := func(email, password string) []byte {
		return marshallObj(t, LoginRequest{Email: email, Password: password})
	}
	app.runHTTPTests(t, []httpTest{
		{
			name: "missing fields", method: http.MethodPost, path: "/v1/users/login", body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"email": "this field is required", "password": "this field is required"}),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/v1/users/login", body: login("who@test.test", pwd),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login("ada@test.test", "nope"),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login("bob@test.test", pwd),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	t.Run("success", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/users/login", "", login(" ADA@test.test ", pwd))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		unmarshall(t, rec, &resp)
		claims := new(Claims)
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(app.conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, usr.ID, claims.Subject)
		assert.True(t, claims.IsStudent)
		assert.False(t, claims.IsTeacher)

		stored, err := app.usrRepo.GetUserByID(context.Background(), usr.ID)
		require.NoError(t, err)
		assert.False(t, stored.LastLogin.IsZero())
	})
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.usrRepo, "Ada", "ada@test.test", pwd, []string{user.RoleStudent}, true)

	rec := app.do(http.MethodPost, "/v1/users/token-refresh", "")
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)}, rec)

	rec = app.do(http.MethodPost, "/v1/users/token-refresh", app.getToken(t, usr))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// refresh window is over
	expired := GetUserClaims(app.conf, usr, 1)
	token, err := GenerateToken(app.conf, expired)
	require.NoError(t, err)
	rec = app.do(http.MethodPost, "/v1/users/token-refresh", token)
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "refresh has expired"})}, rec)
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero@test.test", pwd, []string{user.RoleStudent}, true)
	teacher := testutil.CreateUser(t, app.usrRepo, "Teacher", "teacher@test.test", pwd, []string{user.RoleTeacher}, true)
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin@test.test", pwd, []string{user.RoleAdmin}, true)
	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog@test.test", pwd, []string{user.RoleStudent}, false)

	adminToken := app.getToken(t, admin)
	path := func(v url.Values) string { return "/v1/users?" + v.Encode() }

	app.runHTTPTests(t, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: app.getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "all", path: "/v1/users", token: adminToken,
			wantCode: http.StatusOK, wantData: marshallList(t, student, teacher, admin, naughty),
		},
		{
			name: "search", path: path(url.Values{"search": {"HER"}}), token: adminToken,
			wantCode: http.StatusOK, wantData: marshallList(t, student, teacher),
		},
		{
			name: "role", path: path(url.Values{"role": {user.RoleStudent}}), token: adminToken,
			wantCode: http.StatusOK, wantData: marshallList(t, student, naughty),
		},
		{
			name: "is_active=false", path: path(url.Values{"is_active": {"false"}}), token: adminToken,
			wantCode: http.StatusOK, wantData: marshallList(t, naughty),
		},
		{
			name: "unknown", path: path(url.Values{"search": {"lol"}}), token: adminToken,
			wantCode: http.StatusOK, wantData: marshallList(t),
		},
		{
			name: "roles", path: "/v1/users/roles", token: adminToken,
			wantCode: http.StatusOK, wantData: marshallObj(t, user.Roles),
		},
	})
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin@test.test", pwd, []string{user.RoleAdmin}, true)
	testutil.CreateUser(t, app.usrRepo, "Taken", "taken@test.test", pwd, []string{user.RoleStudent}, true)
	adminToken := app.getToken(t, admin)

	newUser := func(email string, roles ...string) []byte {
		return marshallObj(t, user.NewUser{
			Name: "Newbie", Email: email, Password: pwd, PasswordConfirm: pwd,
			Roles: roles, Interests: []string{"art", "music"},
		})
	}

	app.runHTTPTests(t, []httpTest{
		{
			name: "weak password", method: http.MethodPost, path: "/v1/users/register", token: adminToken,
			body: marshallObj(t, user.NewUser{Name: "Newbie", Email: "new@test.test", Password: "short", PasswordConfirm: "short"}),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"password": "password must contain at least 8 characters"}),
		},
		{
			name: "email taken", method: http.MethodPost, path: "/v1/users/register", token: adminToken,
			body: newUser("TAKEN@test.test"), wantCode: http.StatusBadRequest,
		},
		{
			name: "role above own", method: http.MethodPost, path: "/v1/users/register", token: adminToken,
			body: newUser("new@test.test", user.RoleAdminOwner), wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
	})

	rec := app.do(http.MethodPost, "/v1/users/register", adminToken, newUser("new@test.test", user.RoleStudent))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created user.User
	unmarshall(t, rec, &created)
	assert.Equal(t, "new@test.test", created.Email)
	assert.Equal(t, []string{"art", "music"}, created.Interests)
	assert.True(t, created.IsActive)
}

func Test_userApi_detail(t *testing.T) {
	app := setup(t)
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero@test.test", pwd, []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, app.usrRepo, "Other", "other@test.test", pwd, []string{user.RoleStudent}, true)
	admin := testutil.CreateUser(t, app.usrRepo, "Admin", "admin@test.test", pwd, []string{user.RoleAdmin}, true)
	studentToken := app.getToken(t, student)
	adminToken := app.getToken(t, admin)

	app.runHTTPTests(t, []httpTest{
		{name: "self", path: "/v1/users/" + student.ID, token: studentToken, wantCode: http.StatusOK, wantData: marshallObj(t, student)},
		{name: "me", path: "/v1/users/me", token: studentToken, wantCode: http.StatusOK, wantData: marshallObj(t, student)},
		{name: "me: no token", path: "/v1/users/me", wantCode: http.StatusUnauthorized},
		{
			name: "someone else", path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin", path: "/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusOK, wantData: marshallObj(t, other)},
		{
			name: "student cannot set roles", method: http.MethodPut, path: "/v1/users/" + student.ID, token: studentToken,
			body: []byte(`{"roles": ["admin:"]}`), wantCode: http.StatusForbidden,
		},
		{
			name: "student cannot delete", method: http.MethodDelete, path: "/v1/users/" + other.ID, token: studentToken,
			wantCode: http.StatusNotFound,
		},
		{
			name: "admin cannot delete themselves", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden,
		},
	})

	t.Run("update interests", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/v1/users/"+student.ID, studentToken, []byte(`{"interests": [" robotics ", "art", "art"]}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated user.User
		unmarshall(t, rec, &updated)
		assert.Equal(t, "Hero", updated.Name)
		assert.Equal(t, []string{"robotics", "art"}, updated.Interests)
	})

	t.Run("admin deletes", func(t *testing.T) {
		rec := app.do(http.MethodDelete, "/v1/users/"+other.ID, adminToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = app.do(http.MethodGet, "/v1/users/"+other.ID, adminToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)
	testutil.CreateUser(t, app.usrRepo, "Ada", "ada@test.test", pwd, []string{user.RoleStudent}, true)

	for _, email := range []string{"ada@test.test", "nobody@test.test"} {
		rec := app.do(http.MethodPost, "/v1/users/password-reset", "", marshallObj(t, PasswordResetRequest{Email: email}))
		assert.Equal(t, http.StatusOK, rec.Code, email)
	}
	// only the known address gets a mail
	sent := app.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@test.test", sent[0].To[0].Address)

	rec := app.do(http.MethodPost, "/v1/users/password-reset-confirm", "", marshallObj(t, user.ResetUserPassword{
		UID: "bad", Token: "bad", Password: pwd, PasswordConfirm: pwd,
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func Test_userApi_interests(t *testing.T) {
	app := setup(t)
	student := testutil.CreateUser(t, app.usrRepo, "Hero", "hero@test.test", pwd, []string{user.RoleStudent}, true)
	teacher := testutil.CreateUser(t, app.usrRepo, "Grace", "grace@test.test", pwd, []string{user.RoleTeacher}, true)
	studentToken := app.getToken(t, student)

	app.runHTTPTests(t, []httpTest{
		{name: "no token", method: http.MethodPut, path: "/v1/users/me/interests", body: []byte(`{"interests": []}`), wantCode: http.StatusUnauthorized},
		{
			name: "teachers have no interests", method: http.MethodPut, path: "/v1/users/me/interests", token: app.getToken(t, teacher),
			body: []byte(`{"interests": ["art"]}`), wantCode: http.StatusForbidden,
		},
		{
			name: "invalid tag", method: http.MethodPut, path: "/v1/users/me/interests", token: studentToken,
			body: []byte(`{"interests": ["<b>art</b>"]}`), wantCode: http.StatusBadRequest,
		},
	})

	t.Run("replaced", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/v1/users/me/interests", studentToken, []byte(`{"interests": [" robotics ", "math", "math"]}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated user.User
		unmarshall(t, rec, &updated)
		assert.Equal(t, []string{"robotics", "math"}, updated.Interests)
		assert.Equal(t, student.Email, updated.Email)

		stored, err := app.usrRepo.GetUserByID(context.Background(), student.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"robotics", "math"}, stored.Interests)
	})

	t.Run("cleared", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/v1/users/me/interests", studentToken, []byte(`{"interests": []}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated user.User
		unmarshall(t, rec, &updated)
		assert.Empty(t, updated.Interests)
	})
}
